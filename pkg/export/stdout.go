package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// StdoutSink prints a one-line summary per packet, tcpdump style.
type StdoutSink struct {
	format   string // "text" or "json"
	linkType layers.LinkType
	out      io.Writer
}

// NewStdoutSink creates a new stdout sink. The link type is used to
// decode packets for the summary.
func NewStdoutSink(format string, linkType layers.LinkType) *StdoutSink {
	if format == "" {
		format = "text"
	}
	return &StdoutSink{
		format:   format,
		linkType: linkType,
		out:      os.Stdout,
	}
}

func (s *StdoutSink) Name() string { return "stdout" }

func (s *StdoutSink) WritePacket(data []byte, ci gopacket.CaptureInfo) error {
	pkt := gopacket.NewPacket(data, s.linkType, gopacket.Lazy)
	proto, src, dst := summarize(pkt)

	if s.format == "json" {
		return s.printJSON(map[string]interface{}{
			"timestamp": ci.Timestamp.Format(time.RFC3339Nano),
			"length":    ci.Length,
			"caplen":    ci.CaptureLength,
			"protocol":  proto,
			"src":       src,
			"dst":       dst,
		})
	}

	if src != "" {
		fmt.Fprintf(s.out, "%s %s %s > %s length %d\n",
			ci.Timestamp.Format("15:04:05.000000"), proto, src, dst, ci.Length)
	} else {
		fmt.Fprintf(s.out, "%s %s length %d\n",
			ci.Timestamp.Format("15:04:05.000000"), proto, ci.Length)
	}
	return nil
}

func (s *StdoutSink) Close() error {
	return nil
}

func (s *StdoutSink) printJSON(data map[string]interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.out, "%s\n", b)
	return err
}

// summarize extracts a protocol name and endpoint pair from a decoded
// packet. Undecodable packets report the link type.
func summarize(pkt gopacket.Packet) (proto, src, dst string) {
	net := pkt.NetworkLayer()
	if net == nil {
		if ll := pkt.LinkLayer(); ll != nil {
			return ll.LayerType().String(), "", ""
		}
		return "unknown", "", ""
	}

	srcEP, dstEP := net.NetworkFlow().Endpoints()
	src, dst = srcEP.String(), dstEP.String()
	proto = net.LayerType().String()

	if tr := pkt.TransportLayer(); tr != nil {
		proto = tr.LayerType().String()
		sp, dp := tr.TransportFlow().Endpoints()
		src = src + ":" + sp.String()
		dst = dst + ":" + dp.String()
	} else if icmp := pkt.Layer(layers.LayerTypeICMPv4); icmp != nil {
		proto = "ICMPv4"
	} else if icmp := pkt.Layer(layers.LayerTypeICMPv6); icmp != nil {
		proto = "ICMPv6"
	}
	return proto, src, dst
}
