// Package proxyconfig synthesizes the settings document of the managed proxy
// from the keeper identity. Key names follow the proxy's own camelCase schema
// exactly; they are a contract with the binary, not a style choice.
package proxyconfig

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Extension returns the file suffix the proxy uses to detect the format
func (f Format) Extension() string {
	if f == FormatYAML {
		return ".yml"
	}
	return ".json"
}

type Document struct {
	Log       Log        `json:"log" yaml:"log"`
	DNS       DNS        `json:"dns" yaml:"dns"`
	Inbounds  []Inbound  `json:"inbounds" yaml:"inbounds"`
	Outbounds []Outbound `json:"outbounds" yaml:"outbounds"`
}

type Log struct {
	LogLevel string `json:"loglevel" yaml:"loglevel"`
}

type DNS struct {
	Servers []string `json:"servers" yaml:"servers"`
}

type Inbound struct {
	Port           int             `json:"port" yaml:"port"`
	Protocol       string          `json:"protocol" yaml:"protocol"`
	Settings       InboundSettings `json:"settings" yaml:"settings"`
	StreamSettings StreamSettings  `json:"streamSettings" yaml:"streamSettings"`
	Sniffing       Sniffing        `json:"sniffing" yaml:"sniffing"`
}

type InboundSettings struct {
	Clients []Client `json:"clients" yaml:"clients"`
}

type Client struct {
	Password string `json:"password" yaml:"password"`
}

type StreamSettings struct {
	Network    string     `json:"network" yaml:"network"`
	WSSettings WSSettings `json:"wsSettings" yaml:"wsSettings"`
}

type WSSettings struct {
	Path string `json:"path" yaml:"path"`
}

type Sniffing struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	DestOverride []string `json:"destOverride" yaml:"destOverride"`
}

type Outbound struct {
	Protocol string           `json:"protocol" yaml:"protocol"`
	Tag      string           `json:"tag" yaml:"tag"`
	Settings OutboundSettings `json:"settings" yaml:"settings"`
}

type OutboundSettings struct {
	DomainStrategy string `json:"domainStrategy" yaml:"domainStrategy"`
}

// Options tunes the synthesized document; zero values take the defaults below
type Options struct {
	Port           int
	LogLevel       string
	DNSServers     []string
	DomainStrategy string
}

const (
	DefaultPort           = 7707
	DefaultLogLevel       = "info"
	DefaultDNSServer      = "https+local://8.8.8.8/dns-query"
	DefaultDomainStrategy = "UseIPv4"
)

// New builds the document for a trojan-over-websocket inbound authenticated
// by identity and served under the path "/<identity>".
func New(identity string, options Options) *Document {
	if options.Port == 0 {
		options.Port = DefaultPort
	}
	if options.LogLevel == "" {
		options.LogLevel = DefaultLogLevel
	}
	if len(options.DNSServers) == 0 {
		options.DNSServers = []string{DefaultDNSServer}
	}
	if options.DomainStrategy == "" {
		options.DomainStrategy = DefaultDomainStrategy
	}

	return &Document{
		Log: Log{LogLevel: options.LogLevel},
		DNS: DNS{Servers: options.DNSServers},
		Inbounds: []Inbound{{
			Port:     options.Port,
			Protocol: "trojan",
			Settings: InboundSettings{
				Clients: []Client{{Password: identity}},
			},
			StreamSettings: StreamSettings{
				Network:    "ws",
				WSSettings: WSSettings{Path: "/" + identity},
			},
			Sniffing: Sniffing{
				Enabled:      true,
				DestOverride: []string{"http", "tls", "quic"},
			},
		}},
		Outbounds: []Outbound{{
			Protocol: "freedom",
			Tag:      "direct",
			Settings: OutboundSettings{DomainStrategy: options.DomainStrategy},
		}},
	}
}

// Marshal serializes the document. JSON output is compact.
func (d *Document) Marshal(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.Marshal(d)
		if err != nil {
			return nil, errors.NewInternalError("failed to encode proxy config", err)
		}
		return data, nil
	case FormatYAML:
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(d); err != nil {
			return nil, errors.NewInternalError("failed to encode proxy config", err)
		}
		if err := encoder.Close(); err != nil {
			return nil, errors.NewInternalError("failed to encode proxy config", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.NewValidationError("unsupported proxy config format: "+string(format), nil)
	}
}

func Unmarshal(format Format, data []byte) (*Document, error) {
	var d Document
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &d)
	case FormatYAML:
		err = yaml.Unmarshal(data, &d)
	default:
		return nil, errors.NewValidationError("unsupported proxy config format: "+string(format), nil)
	}
	if err != nil {
		return nil, errors.NewParseError("failed to decode proxy config", err)
	}
	return &d, nil
}
