// traffic-gen produces a steady mix of UDP and TCP traffic on localhost
// so a capture session has something to chew on during development.
//
// Run snare in one terminal, traffic-gen in another:
//
//	snare -i lo -f "udp port 9053 or tcp port 9080"
//	go run ./deploy/demo-app/traffic-gen
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"
)

func main() {
	var (
		udpAddr  string
		tcpAddr  string
		interval time.Duration
	)
	flag.StringVar(&udpAddr, "udp", "127.0.0.1:9053", "UDP target address")
	flag.StringVar(&tcpAddr, "tcp", "127.0.0.1:9080", "TCP target address")
	flag.DurationVar(&interval, "interval", 100*time.Millisecond, "delay between packets")
	flag.Parse()

	go udpEcho(udpAddr)
	go tcpEcho(tcpAddr)
	time.Sleep(200 * time.Millisecond)

	udpConn, err := net.Dial("udp", udpAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer udpConn.Close()

	seq := 0
	for {
		seq++
		fmt.Fprintf(udpConn, "udp ping %d", seq)

		if seq%10 == 0 {
			if c, err := net.DialTimeout("tcp", tcpAddr, time.Second); err == nil {
				fmt.Fprintf(c, "tcp hello %d\n", seq)
				c.Close()
			}
		}
		time.Sleep(interval)
	}
}

func udpEcho(addr string) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		log.Fatal(err)
	}
	buf := make([]byte, 1500)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		pc.WriteTo(buf[:n], from)
	}
}

func tcpEcho(addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer c.Close()
			buf := make([]byte, 1500)
			for {
				n, err := c.Read(buf)
				if err != nil {
					return
				}
				c.Write(buf[:n])
			}
		}()
	}
}
