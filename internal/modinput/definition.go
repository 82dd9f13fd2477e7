package modinput

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Stanza is one configured input.
type Stanza struct {
	// Name is the full stanza name, kind://name.
	Name   string
	App    string
	Params map[string]string
}

// InputDefinition is the document splunkd writes to stdin on each run.
type InputDefinition struct {
	ServerHost    string
	ServerURI     string
	SessionKey    string
	CheckpointDir string
	Stanzas       []Stanza
}

// ValidationDefinition is the document sent with --validate-arguments.
type ValidationDefinition struct {
	ServerHost    string
	ServerURI     string
	SessionKey    string
	CheckpointDir string
	Name          string
	Params        map[string]string
}

type xmlParam struct {
	Name   string   `xml:"name,attr"`
	Value  string   `xml:",chardata"`
	Values []string `xml:"value"`
}

type xmlStanza struct {
	Name       string     `xml:"name,attr"`
	App        string     `xml:"app,attr"`
	Params     []xmlParam `xml:"param"`
	ParamLists []xmlParam `xml:"param_list"`
}

type xmlInput struct {
	XMLName       xml.Name    `xml:"input"`
	ServerHost    string      `xml:"server_host"`
	ServerURI     string      `xml:"server_uri"`
	SessionKey    string      `xml:"session_key"`
	CheckpointDir string      `xml:"checkpoint_dir"`
	Stanzas       []xmlStanza `xml:"configuration>stanza"`
}

type xmlItems struct {
	XMLName       xml.Name    `xml:"items"`
	ServerHost    string      `xml:"server_host"`
	ServerURI     string      `xml:"server_uri"`
	SessionKey    string      `xml:"session_key"`
	CheckpointDir string      `xml:"checkpoint_dir"`
	Items         []xmlStanza `xml:"item"`
}

func (s xmlStanza) params() map[string]string {
	out := make(map[string]string, len(s.Params)+len(s.ParamLists))
	for _, p := range s.Params {
		out[p.Name] = strings.TrimSpace(p.Value)
	}
	// Multi-valued params are joined the way blacklist is written.
	for _, p := range s.ParamLists {
		out[p.Name] = strings.Join(p.Values, ",")
	}
	return out
}

// ParseInputDefinition reads an input definition document.
func ParseInputDefinition(r io.Reader) (*InputDefinition, error) {
	var doc xmlInput
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse input definition: %w", err)
	}
	def := &InputDefinition{
		ServerHost:    strings.TrimSpace(doc.ServerHost),
		ServerURI:     strings.TrimSpace(doc.ServerURI),
		SessionKey:    strings.TrimSpace(doc.SessionKey),
		CheckpointDir: strings.TrimSpace(doc.CheckpointDir),
	}
	for _, s := range doc.Stanzas {
		def.Stanzas = append(def.Stanzas, Stanza{Name: s.Name, App: s.App, Params: s.params()})
	}
	if len(def.Stanzas) == 0 {
		return nil, fmt.Errorf("input definition has no stanzas")
	}
	return def, nil
}

// ParseValidationDefinition reads a validation document.
func ParseValidationDefinition(r io.Reader) (*ValidationDefinition, error) {
	var doc xmlItems
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse validation definition: %w", err)
	}
	if len(doc.Items) == 0 {
		return nil, fmt.Errorf("validation definition has no item")
	}
	return &ValidationDefinition{
		ServerHost:    strings.TrimSpace(doc.ServerHost),
		ServerURI:     strings.TrimSpace(doc.ServerURI),
		SessionKey:    strings.TrimSpace(doc.SessionKey),
		CheckpointDir: strings.TrimSpace(doc.CheckpointDir),
		Name:          doc.Items[0].Name,
		Params:        doc.Items[0].params(),
	}, nil
}
