package wol

import (
	"bytes"
	"net"
	"testing"
)

func TestParseMACForms(t *testing.T) {
	want := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	cases := []string{
		"AA:BB:CC:DD:EE:FF",
		"aa:bb:cc:dd:ee:ff",
		"AA-BB-CC-DD-EE-FF",
		"AABBCCDDEEFF",
	}
	for _, c := range cases {
		got, err := ParseMAC(c)
		if err != nil {
			t.Fatalf("ParseMAC(%q): %v", c, err)
		}
		if got != want {
			t.Fatalf("ParseMAC(%q) = %v, want %v", c, got, want)
		}
	}
}

func TestParseMACRejectsInvalid(t *testing.T) {
	for _, c := range []string{"", "AA:BB:CC", "zz:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF:00"} {
		if _, err := ParseMAC(c); err == nil {
			t.Fatalf("ParseMAC(%q): expected error", c)
		}
	}
}

func TestSetBroadcastSucceedsOnRealUDPSocket(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		t.Fatalf("setBroadcast: %v", err)
	}
}

func TestWakeRejectsInvalidMACBeforeDialing(t *testing.T) {
	if err := Wake("not-a-mac"); err == nil {
		t.Fatal("expected error for invalid MAC")
	}
}

func TestMagicPacketShape(t *testing.T) {
	mac, err := ParseMAC("AA-BB-CC-DD-EE-FF")
	if err != nil {
		t.Fatalf("ParseMAC: %v", err)
	}
	packet := MagicPacket(mac)
	if len(packet) != 102 {
		t.Fatalf("len(packet) = %d, want 102", len(packet))
	}
	if !bytes.Equal(packet[:6], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Fatal("expected 6 leading 0xFF bytes")
	}
	for i := 0; i < 16; i++ {
		chunk := packet[6+i*6 : 6+i*6+6]
		if !bytes.Equal(chunk, mac[:]) {
			t.Fatalf("repetition %d = %v, want %v", i, chunk, mac)
		}
	}
}
