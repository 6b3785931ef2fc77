//go:build linux

// Package transport reads and writes raw CAN frames over Linux SocketCAN
// (AF_CAN/SOCK_RAW) interfaces, and administers their link state via
// netlink.
package transport

import (
	"fmt"
	"net"
	"time"
	"unsafe"

	"github.com/coachlink/rvcd/internal/frame"
	"golang.org/x/sys/unix"
)

// wireFrameSize matches Linux's struct can_frame: 4-byte id, 1-byte dlc,
// 3 bytes padding, 8 bytes data.
const wireFrameSize = 16

// socket wraps one AF_CAN/SOCK_RAW file descriptor bound to a single
// interface.
type socket struct {
	fd   int
	name string
}

// openSocket binds a raw CAN socket to the named interface.
func openSocket(ifaceName string) (*socket, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("transport: socket(AF_CAN): %w", err)
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: interface %q: %w", ifaceName, err)
	}

	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %q: %w", ifaceName, err)
	}

	return &socket{fd: fd, name: ifaceName}, nil
}

func (s *socket) Close() error {
	return unix.Close(s.fd)
}

// readFrame blocks for one CAN frame. The caller stamps the receive
// timestamp; SocketCAN can surface a kernel-provided timestamp via
// SO_TIMESTAMP, but the bridge uses its own monotonic clock for the
// ordering guarantees described in the entity store.
func (s *socket) readFrame() (frame.Frame, error) {
	buf := make([]byte, wireFrameSize)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return frame.Frame{}, err
	}
	if n < wireFrameSize {
		return frame.Frame{}, fmt.Errorf("transport: short read (%d bytes)", n)
	}

	id := *(*uint32)(unsafe.Pointer(&buf[0]))
	isError := id&unix.CAN_ERR_FLAG != 0
	id &^= unix.CAN_ERR_FLAG | unix.CAN_RTR_FLAG | unix.CAN_EFF_FLAG
	dlc := buf[4]
	payload := buf[8 : 8+min(int(dlc), frame.MaxPayload)]

	return frame.New(id, payload, s.name, time.Now(), isError), nil
}

// writeFrame sends f on the bound socket.
func (s *socket) writeFrame(f frame.Frame) error {
	var buf [wireFrameSize]byte
	id := f.ArbitrationID | unix.CAN_EFF_FLAG
	*(*uint32)(unsafe.Pointer(&buf[0])) = id
	buf[4] = f.Length
	copy(buf[8:8+f.Length], f.Payload())

	_, err := unix.Write(s.fd, buf[:])
	return err
}
