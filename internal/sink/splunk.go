package sink

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
)

// Splunk writes the modular input XML event stream read by splunkd.
// The <stream> element is opened with the first event, so a run without
// events writes nothing.
type Splunk struct {
	out    io.Writer
	enc    *xml.Encoder
	meta   Metadata
	opened bool
	closed bool
}

type xmlEvent struct {
	XMLName    xml.Name `xml:"event"`
	Stanza     string   `xml:"stanza,attr,omitempty"`
	Time       string   `xml:"time"`
	Data       string   `xml:"data"`
	Source     string   `xml:"source,omitempty"`
	Sourcetype string   `xml:"sourcetype,omitempty"`
	Index      string   `xml:"index,omitempty"`
	Host       string   `xml:"host,omitempty"`
}

// NewSplunk returns a stream writer. meta.Input is used as the stanza.
func NewSplunk(out io.Writer, meta Metadata) *Splunk {
	return &Splunk{out: out, enc: xml.NewEncoder(out), meta: meta}
}

func (s *Splunk) Write(_ context.Context, e Event) error {
	if s.closed {
		return &Error{Sink: "splunk", Err: fmt.Errorf("stream already closed")}
	}
	if !s.opened {
		if _, err := io.WriteString(s.out, "<stream>"); err != nil {
			return &Error{Sink: "splunk", Err: err}
		}
		s.opened = true
	}
	err := s.enc.Encode(xmlEvent{
		Stanza:     s.meta.Input,
		Time:       e.TimeString(),
		Data:       e.Data,
		Source:     s.meta.Source,
		Sourcetype: s.meta.Sourcetype,
		Index:      s.meta.Index,
		Host:       s.meta.Host,
	})
	if err != nil {
		return &Error{Sink: "splunk", Err: fmt.Errorf("failed to encode event: %w", err)}
	}
	return nil
}

func (s *Splunk) Close(context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.opened {
		return nil
	}
	if _, err := io.WriteString(s.out, "</stream>"); err != nil {
		return &Error{Sink: "splunk", Err: err}
	}
	if f, ok := s.out.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return &Error{Sink: "splunk", Err: err}
		}
	}
	return nil
}
