// Discovery probe for finding devices on the local network.
//
// Usage:
//
//	go run ./example/cmd/discover
//
// It broadcasts a discovery probe and prints every reply received within
// two seconds.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jpalmerr/pulsegen/internal/discovery"
)

func main() {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open socket: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	targets := []*net.UDPAddr{
		{IP: net.IPv4bcast, Port: discovery.DefaultPort},
		{IP: net.IPv4(127, 0, 0, 1), Port: discovery.DefaultPort},
	}
	for _, addr := range targets {
		if _, err := conn.WriteToUDP([]byte(discovery.Probe), addr); err != nil {
			fmt.Fprintf(os.Stderr, "probe to %s failed: %v\n", addr, err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	found := 0
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
			os.Exit(1)
		}
		var reply discovery.Reply
		if err := json.Unmarshal(buf[:n], &reply); err != nil {
			continue
		}
		found++
		fmt.Printf("%s  name=%s  url=http://%s:%d\n", from.IP, reply.Name, from.IP, reply.Port)
	}

	if found == 0 {
		fmt.Println("no devices found")
	}
}
