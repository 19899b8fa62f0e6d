package telephony

import (
	"strings"
	"testing"
)

func TestRenderMessageReply(t *testing.T) {
	xml, err := RenderMessageReply(OptOutReply)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(xml, "<Message>"+OptOutReply+"</Message>") {
		t.Fatalf("expected message in xml: %s", xml)
	}
}

func TestRenderMessageReply_Empty(t *testing.T) {
	xml, err := RenderMessageReply("")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(xml, "<Message") || !strings.Contains(xml, "<Response></Response>") {
		t.Fatalf("expected empty response, got %s", xml)
	}
}
