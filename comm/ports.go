package comm

import bugst "go.bug.st/serial"

// ListSerialPorts returns the names of the serial ports present on the system
func ListSerialPorts() ([]string, error) {
	return bugst.GetPortsList()
}
