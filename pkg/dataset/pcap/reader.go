// Package pcap turns network packet captures into tabular datasets so the
// detectors can score traffic like any other numeric samples.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/odkit/odkit/pkg/dataset"
)

const streamBuffer = 1000

// Reader reads packets from capture files or live interfaces and exposes
// them as feature vectors.
type Reader struct {
	handle    *pcap.Handle
	extractor *PacketFeatures
	live      bool
}

var _ dataset.Reader = (*Reader)(nil)

// OpenFile creates a Reader over a capture file.
func OpenFile(filename string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	return &Reader{handle: handle, extractor: NewPacketFeatures()}, nil
}

// OpenLive creates a Reader over a live interface.
func OpenLive(iface string, snaplen int32, promiscuous bool, timeout time.Duration) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("open live capture: %w", err)
	}
	return &Reader{handle: handle, extractor: NewPacketFeatures(), live: true}, nil
}

// FeatureNames returns the names of the extracted packet features.
func (r *Reader) FeatureNames() []string { return r.extractor.FeatureNames() }

// Read consumes the whole capture into a matrix. Not meaningful on live
// handles, which never reach EOF.
func (r *Reader) Read() ([][]float64, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}
	if r.live {
		return nil, errors.New("cannot batch-read a live capture, use Stream")
	}

	var data [][]float64
	source := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range source.Packets() {
		if features := r.extractor.Extract(packet); features != nil {
			data = append(data, features)
		}
	}
	return data, nil
}

// Stream returns a channel of per-packet feature vectors.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	out := make(chan []float64, streamBuffer)
	source := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-source.Packets():
				if !ok {
					return
				}
				features := r.extractor.Extract(packet)
				if features == nil {
					continue
				}
				select {
				case out <- features:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the capture handle.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}

// PacketFeatures extracts a fixed numeric feature vector from each packet:
// size, inter-arrival time, protocol, ports, TCP flags, TTL and payload
// size.
type PacketFeatures struct {
	lastTimestamp time.Time
}

var _ dataset.FeatureExtractor = (*PacketFeatures)(nil)

// NewPacketFeatures creates a packet feature extractor.
func NewPacketFeatures() *PacketFeatures {
	return &PacketFeatures{}
}

// Extract converts a packet to a feature vector, or nil when raw is not a
// packet.
func (e *PacketFeatures) Extract(raw any) []float64 {
	packet, ok := raw.(gopacket.Packet)
	if !ok {
		return nil
	}

	features := make([]float64, 8)

	features[0] = float64(len(packet.Data()))

	if metadata := packet.Metadata(); metadata != nil && !metadata.Timestamp.IsZero() {
		if !e.lastTimestamp.IsZero() {
			features[1] = metadata.Timestamp.Sub(e.lastTimestamp).Seconds()
		}
		e.lastTimestamp = metadata.Timestamp
	}

	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		features[2] = 6
		features[3] = float64(tcp.SrcPort)
		features[4] = float64(tcp.DstPort)
		features[5] = encodeTCPFlags(tcp)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		features[2] = 17
		features[3] = float64(udp.SrcPort)
		features[4] = float64(udp.DstPort)
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil {
		features[2] = 1
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		features[6] = float64(ipLayer.(*layers.IPv4).TTL)
	}

	if appLayer := packet.ApplicationLayer(); appLayer != nil {
		features[7] = float64(len(appLayer.Payload()))
	}

	return features
}

// FeatureNames returns the names of the extracted features.
func (e *PacketFeatures) FeatureNames() []string {
	return []string{
		"packet_size",
		"inter_arrival_time",
		"protocol",
		"src_port",
		"dst_port",
		"tcp_flags",
		"ip_ttl",
		"payload_size",
	}
}

func encodeTCPFlags(tcp *layers.TCP) float64 {
	var flags float64
	if tcp.SYN {
		flags += 1
	}
	if tcp.ACK {
		flags += 2
	}
	if tcp.FIN {
		flags += 4
	}
	if tcp.RST {
		flags += 8
	}
	if tcp.PSH {
		flags += 16
	}
	if tcp.URG {
		flags += 32
	}
	return flags
}
