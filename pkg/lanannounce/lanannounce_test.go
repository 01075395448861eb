package lanannounce

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestServiceZone(t *testing.T) {
	t.Parallel()
	svc, err := Service(Options{
		Instance: "river-lab",
		HostName: "river-lab.local.",
		IPs:      []net.IP{net.IPv4(192, 168, 1, 20)},
		Port:     8765,
		Info:     []string{"path=/plot"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if svc.Service != ServiceType || svc.Port != 8765 || svc.Domain != "local." {
		t.Fatalf("service = %+v", svc)
	}
	if len(svc.TXT) != 1 || svc.TXT[0] != "path=/plot" {
		t.Fatalf("txt = %v", svc.TXT)
	}
}

func TestServiceRejectsBadPort(t *testing.T) {
	t.Parallel()
	for _, port := range []int{0, -1, 70000} {
		if _, err := Service(Options{Instance: "x", HostName: "x.local.", IPs: []net.IP{net.IPv4(10, 0, 0, 1)}, Port: port}); err == nil {
			t.Errorf("port %d accepted", port)
		}
	}
}

func TestEntryAddr(t *testing.T) {
	t.Parallel()
	cases := []struct {
		entry *mdns.ServiceEntry
		want  string
	}{
		{&mdns.ServiceEntry{Name: "lab." + ServiceType + ".local.", AddrV4: net.IPv4(10, 0, 0, 5), Port: 8765}, "10.0.0.5:8765"},
		{&mdns.ServiceEntry{Name: "printer._ipp._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 6), Port: 631}, ""},
		{&mdns.ServiceEntry{Name: "lab." + ServiceType + ".local.", Port: 8765}, ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := entryAddr(tc.entry); got != tc.want {
			t.Errorf("entryAddr(%+v) = %q, want %q", tc.entry, got, tc.want)
		}
	}
}

func TestCollectDropsRepeatedAnswers(t *testing.T) {
	t.Parallel()
	name := "lab." + ServiceType + ".local."
	entries := make(chan *mdns.ServiceEntry, 8)
	entries <- &mdns.ServiceEntry{Name: name, AddrV4: net.IPv4(10, 0, 0, 5), Port: 8765}
	entries <- &mdns.ServiceEntry{Name: name, AddrV4: net.IPv4(10, 0, 0, 5), Port: 8765}
	entries <- &mdns.ServiceEntry{Name: "printer._ipp._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 6), Port: 631}
	entries <- &mdns.ServiceEntry{Name: "annex." + ServiceType + ".local.", AddrV4: net.IPv4(10, 0, 0, 7), Port: 8765}
	entries <- &mdns.ServiceEntry{Name: name, AddrV4: net.IPv4(10, 0, 0, 5), Port: 8765}
	close(entries)

	got := collect(entries)
	want := []string{"10.0.0.5:8765", "10.0.0.7:8765"}
	if len(got) != len(want) {
		t.Fatalf("collect = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("collect = %v, want %v", got, want)
		}
	}
}
