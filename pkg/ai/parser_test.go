package ai

import (
	"reflect"
	"testing"
)

func TestParseAnalysisFencedJSON(t *testing.T) {
	text := "Here is the analysis:\n```json\n{\"summary\":\"A quarterly report.\",\"key_points\":[\"revenue up\"],\"sentiment\":\"positive\",\"keywords\":[\"revenue\"],\"entities\":[\"Acme Corp\"]}\n```\nDone."
	analysis, ok := ParseAnalysis(text)
	if !ok {
		t.Fatalf("expected fenced json to parse")
	}
	if analysis.Summary != "A quarterly report." {
		t.Fatalf("summary mismatch: %q", analysis.Summary)
	}
	if !reflect.DeepEqual(analysis.KeyPoints, []string{"revenue up"}) {
		t.Fatalf("key points mismatch: %v", analysis.KeyPoints)
	}
	if analysis.Sentiment != "positive" {
		t.Fatalf("sentiment mismatch: %q", analysis.Sentiment)
	}
}

func TestParseAnalysisUnmarkedFence(t *testing.T) {
	text := "```\n{\"summary\":\"Short note.\",\"sentiment\":\"neutral\"}\n```"
	analysis, ok := ParseAnalysis(text)
	if !ok {
		t.Fatalf("expected unmarked fence to parse")
	}
	if analysis.Summary != "Short note." {
		t.Fatalf("summary mismatch: %q", analysis.Summary)
	}
	if analysis.KeyPoints == nil || analysis.Keywords == nil || analysis.Entities == nil {
		t.Fatalf("collections should be normalized to empty slices")
	}
}

func TestParseAnalysisBareJSON(t *testing.T) {
	analysis, ok := ParseAnalysis(`{"summary":"Plain object.","sentiment":"negative"}`)
	if !ok || analysis.Summary != "Plain object." {
		t.Fatalf("bare json should parse, got ok=%v %+v", ok, analysis)
	}
}

func TestParseAnalysisGarbageFallsBack(t *testing.T) {
	for _, text := range []string{
		"I could not produce JSON, sorry.",
		"```json\n{not json}\n```",
		"",
		`{"key_points":["no summary present"]}`,
	} {
		analysis, ok := ParseAnalysis(text)
		if ok {
			t.Fatalf("text %q should not parse", text)
		}
		want := FallbackAnalysis()
		if !reflect.DeepEqual(analysis, want) {
			t.Fatalf("expected fixed fallback for %q, got %+v", text, analysis)
		}
	}
}
