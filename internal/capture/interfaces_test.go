package capture

import (
	"errors"
	"testing"
)

func TestSelectInterfacePrefersUpWithIPv4(t *testing.T) {
	ifaces := []Interface{
		{Name: "lo", Loopback: true, Up: true, HasIPv4: true},
		{Name: "eth0", Up: true},
		{Name: "eth1", Up: true, HasIPv4: true},
	}

	name, err := selectInterface(ifaces)
	if err != nil {
		t.Fatalf("selectInterface returned error: %v", err)
	}
	if name != "eth1" {
		t.Errorf("selected %q, want eth1", name)
	}
}

func TestSelectInterfaceFallsBackToUp(t *testing.T) {
	ifaces := []Interface{
		{Name: "lo", Loopback: true, Up: true, HasIPv4: true},
		{Name: "eth0", Up: true},
	}

	name, err := selectInterface(ifaces)
	if err != nil {
		t.Fatalf("selectInterface returned error: %v", err)
	}
	if name != "eth0" {
		t.Errorf("selected %q, want eth0", name)
	}
}

func TestSelectInterfaceLastResortIsFirst(t *testing.T) {
	ifaces := []Interface{
		{Name: "lo", Loopback: true, Up: true, HasIPv4: true},
		{Name: "eth0"},
	}

	name, err := selectInterface(ifaces)
	if err != nil {
		t.Fatalf("selectInterface returned error: %v", err)
	}
	if name != "lo" {
		t.Errorf("selected %q, want the first device lo", name)
	}
}

func TestSelectInterfaceEmpty(t *testing.T) {
	if _, err := selectInterface(nil); !errors.Is(err, ErrNoInterfaces) {
		t.Errorf("error = %v, want ErrNoInterfaces", err)
	}
}
