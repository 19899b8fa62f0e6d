package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal TwiML for SMS replies; no provider SDK.

type twimlResponse struct {
	XMLName  xml.Name       `xml:"Response"`
	Messages []twimlMessage `xml:"Message,omitempty"`
}

type twimlMessage struct {
	Body string `xml:",chardata"`
}

const OptOutReply = "You have been unsubscribed and will not receive further messages."

// RenderMessageReply renders a <Response> with one <Message> per non-empty
// text. No texts yields an empty <Response/>, which sends nothing.
func RenderMessageReply(texts ...string) (string, error) {
	var r twimlResponse
	for _, t := range texts {
		if t != "" {
			r.Messages = append(r.Messages, twimlMessage{Body: t})
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
