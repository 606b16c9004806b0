// Package wol sends Wake-on-LAN magic packets: a best-effort,
// fire-and-forget hook run before opening the transport to a node that
// has a MAC address on file.
package wol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
)

// ErrInvalidMAC is returned when a MAC string does not parse to
// exactly 6 octets.
var ErrInvalidMAC = errors.New("wol: invalid MAC address")

// Port is the standard Wake-on-LAN UDP port.
const Port = 9

// ParseMAC accepts colon-separated ("AA:BB:CC:DD:EE:FF"),
// dash-separated ("AA-BB-CC-DD-EE-FF"), and bare hex
// ("AABBCCDDEEFF") forms.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte

	cleaned := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	if len(cleaned) != 12 {
		return mac, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	for i := 0; i < 6; i++ {
		b, err := strconv.ParseUint(cleaned[i*2:i*2+2], 16, 8)
		if err != nil {
			return mac, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
		}
		mac[i] = byte(b)
	}
	return mac, nil
}

// MagicPacket builds the standard 102-byte WoL frame: six 0xFF bytes
// followed by the target MAC address repeated 16 times.
func MagicPacket(mac [6]byte) []byte {
	packet := make([]byte, 0, 6+16*6)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, mac[:]...)
	}
	return packet
}

// Wake parses macAddr and broadcasts a magic packet to port 9. It
// never returns an error to a caller that chooses to ignore it — the
// node state does not reflect WoL outcome, only best-effort intent —
// but the error is returned so callers that want to log it still can.
func Wake(macAddr string) error {
	mac, err := ParseMAC(macAddr)
	if err != nil {
		return err
	}

	conn, err := net.Dial("udp", fmt.Sprintf("255.255.255.255:%d", Port))
	if err != nil {
		return fmt.Errorf("wol: dialing broadcast: %w", err)
	}
	defer conn.Close()

	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return fmt.Errorf("wol: dialed connection is %T, not *net.UDPConn", conn)
	}
	if err := setBroadcast(udpConn); err != nil {
		return fmt.Errorf("wol: enabling broadcast: %w", err)
	}

	if _, err := conn.Write(MagicPacket(mac)); err != nil {
		return fmt.Errorf("wol: sending magic packet: %w", err)
	}
	return nil
}

// setBroadcast sets SO_BROADCAST on conn's underlying socket. A plain
// net.Dial'd UDP socket does not get this option, and without it a
// send to a broadcast address (255.255.255.255) fails on Linux/BSD.
func setBroadcast(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("getting raw conn for SO_BROADCAST: %w", err)
	}

	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return fmt.Errorf("control fd for SO_BROADCAST: %w", err)
	}
	if sysErr != nil {
		return fmt.Errorf("setsockopt SO_BROADCAST: %w", sysErr)
	}
	return nil
}
