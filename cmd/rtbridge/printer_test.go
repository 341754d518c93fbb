package main

import (
	"encoding/json"
	"strings"
	"testing"

	v1 "rtbridge/contracts/realtime/v1"
)

func serverMessage(t *testing.T, raw string) v1.ServerMessage {
	t.Helper()
	var m v1.ServerMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return m
}

func TestPrinter_Transcript(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	p := &printer{out: &out}
	for _, raw := range []string{
		`{"type":"session.created","session":{"id":"sess_1"}}`,
		`{"type":"conversation.item.input_audio_transcription.completed","item_id":"i1","transcript":"hi there"}`,
		`{"type":"response.audio_transcript.delta","delta":"Bon"}`,
		`{"type":"response.audio_transcript.delta","delta":"jour"}`,
		`{"type":"response.audio.delta","delta":"AAAA"}`,
		`{"type":"response.audio_transcript.done"}`,
		`{"type":"response.done","response":{"id":"r1","status":"completed","usage":{"total_tokens":9,"input_tokens":4,"output_tokens":5}}}`,
	} {
		if err := p.print(serverMessage(t, raw)); err != nil {
			t.Fatalf("print(%s) err=%v", raw, err)
		}
	}

	want := "session sess_1\nyou: hi there\nassistant: Bonjour\n[completed, 4 tokens in, 5 out]\n"
	if out.String() != want {
		t.Fatalf("out=%q want=%q", out.String(), want)
	}
}

func TestPrinter_ErrorEndsOpenLine(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	p := &printer{out: &out}
	for _, raw := range []string{
		`{"type":"response.text.delta","delta":"par"}`,
		`{"type":"error","error":{"type":"invalid_request_error","code":"bad_voice","message":"voice not supported"}}`,
	} {
		if err := p.print(serverMessage(t, raw)); err != nil {
			t.Fatalf("print(%s) err=%v", raw, err)
		}
	}

	want := "assistant: par\nerror invalid_request_error/bad_voice: voice not supported\n"
	if out.String() != want {
		t.Fatalf("out=%q want=%q", out.String(), want)
	}
}

func TestPrinter_Verbose(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	p := &printer{out: &out, verbose: true}
	if err := p.print(serverMessage(t, `{"type":"input_audio_buffer.committed"}`)); err != nil {
		t.Fatalf("print err=%v", err)
	}
	if out.String() != "· input_audio_buffer.committed\n" {
		t.Fatalf("out=%q", out.String())
	}
}

func TestPrinter_BadPayload(t *testing.T) {
	t.Parallel()

	p := &printer{out: &strings.Builder{}}
	if err := p.print(serverMessage(t, `{"type":"response.text.delta","delta":7}`)); err == nil {
		t.Fatalf("print err=nil want decode error")
	}
}
