/*
Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices over libusb.  This is a 'minimum viable product' for
the bulk transfer mode of ASCII instruments such as the Rigol DG1022.

It does not, for example, include features to support multi-packet
messaging, and thus assumes your data fits in the remote's buffer.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Create a read header and send it on the Out endpoint
2.  Read from the In endpoint
3.  Strip the 12 byte header and keep transferSize bytes of payload

These are implemented as Write() and Read() on USBDevice, which satisfies
io.ReadWriteCloser so it can back a comm.RemoteDevice.  On linux the kernel
usbtmc driver (comm.KindUSBTMC) is simpler, when it is loaded.
*/
package usbtmc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golab-hw/fgctl/comm"
	"github.com/google/gousb"
)

const (
	// RigolVID is the Rigol vendor ID
	RigolVID = 0x1AB1

	// DG1022PID is the DG1022 product ID
	DG1022PID = 0x0588

	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	headerSize = 12

	msgDevDepOut    = 0x01
	msgRequestDevIn = 0x02
)

// BTagger can generate atomic bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	// embedded mutex for concurrent safety
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 0, min: 1}
}

// nextbTag returns 1..255, never 0
func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min {
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(btag BTagger, datalen int) [headerSize]byte {
	out := [headerSize]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // hardcode end of message
	out[9] = reserved
	out[10] = reserved
	out[11] = reserved
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, puts 0x00 in the header and sets the bit to use it to false
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [headerSize]byte {
	out := [headerSize]byte{}
	/* this differs from BulkOut by bytes 8~11
	8 bitmap, bit 1 TermCharEnabled
	9 terminator byte
	10~11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = msgRequestDevIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	out[10] = reserved
	out[11] = reserved
	return out
}

// decBulkInHeader returns the payload of a DEV_DEP_MSG_IN transfer
func decBulkInHeader(buf []byte) ([]byte, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("only received %d bytes, need at least %d to form header", len(buf), headerSize)
	}
	if buf[0] != msgRequestDevIn {
		return nil, fmt.Errorf("unexpected MsgID %#x in bulk-in header", buf[0])
	}
	if buf[2] != invbTag(buf[1]) {
		return nil, fmt.Errorf("bTag %#x and inverse %#x disagree", buf[1], buf[2])
	}
	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	data := buf[headerSize:]
	if size < len(data) {
		data = data[:size] // drop alignment padding
	}
	return data, nil
}

// USBDevice is a struct hiding the details of USB and exposing an io.ReadWriteCloser
type USBDevice struct {
	Timeout time.Duration

	tagger  BTagger
	ctx     *gousb.Context
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	device  *gousb.Device
	closer  func()
	pending []byte
}

// NewUSBDevice opens the first device with the given vendor and product ID
func NewUSBDevice(vid, pid uint16) (*USBDevice, error) {
	out := &USBDevice{Timeout: comm.DefaultTimeout, tagger: newBTagGen()}
	out.ctx = gousb.NewContext()
	dev, err := out.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		out.ctx.Close()
		return nil, err
	}
	if dev == nil {
		out.ctx.Close()
		return nil, fmt.Errorf("no USB device %04x:%04x", vid, pid)
	}
	out.device = dev
	if err = dev.SetAutoDetach(true); err != nil {
		out.Close()
		return nil, err
	}
	iface, done, err := dev.DefaultInterface()
	if err != nil {
		out.Close()
		return nil, err
	}
	out.closer = done
	for _, ep := range iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && out.in == nil {
			out.in, err = iface.InEndpoint(ep.Number)
		} else if ep.Direction == gousb.EndpointDirectionOut && out.out == nil {
			out.out, err = iface.OutEndpoint(ep.Number)
		}
		if err != nil {
			out.Close()
			return nil, err
		}
	}
	if out.in == nil || out.out == nil {
		out.Close()
		return nil, errors.New("device has no bulk in/out endpoint pair")
	}
	return out, nil
}

// Write sends b as a single DEV_DEP_MSG_OUT transfer
func (d *USBDevice) Write(b []byte) (int, error) {
	const alignment = 4
	hdr := encBulkOutHeader(d.tagger, len(b))
	msg := append(hdr[:], b...)
	if residual := len(msg) % alignment; residual > 0 {
		msg = append(msg, make([]byte, alignment-residual)...)
	}
	if _, err := d.out.Write(msg); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read requests one message from the device and copies its payload into b.
// Payload that does not fit is kept for the next call.
func (d *USBDevice) Read(b []byte) (int, error) {
	if len(d.pending) > 0 {
		n := copy(b, d.pending)
		d.pending = d.pending[n:]
		return n, nil
	}
	const bufSize = 1500
	term := byte('\n')
	hdr := encBulkInHeader(d.tagger, bufSize-headerSize, &term)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()
	buf := make([]byte, bufSize)
	n, err := d.in.ReadContext(ctx, buf)
	if err != nil {
		if errors.Is(err, gousb.ErrorTimeout) || errors.Is(err, gousb.TransferTimedOut) ||
			errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("usbtmc: %w", comm.ErrTimeout)
		}
		return 0, err
	}
	data, err := decBulkInHeader(buf[:n])
	if err != nil {
		return 0, err
	}
	n = copy(b, data)
	d.pending = data[n:]
	return n, nil
}

// Close releases the interface, device and libusb context
func (d *USBDevice) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		if cerr := d.ctx.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
