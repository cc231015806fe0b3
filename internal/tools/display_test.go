package tools

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDescribeKnownTool(t *testing.T) {
	got := Describe("search_web", json.RawMessage(`{"query": "golang fsnotify", "search_engine": "google"}`))
	if got != "🔎 Web search: golang fsnotify, engine=google" {
		t.Errorf("Describe(search_web) = %q", got)
	}
}

func TestDescribePrimaryKeyUnlabeled(t *testing.T) {
	got := Describe("get_page_text_content", json.RawMessage(`{"url": "https://example.com/a"}`))
	if got != "🌐 Read page text: https://example.com/a" {
		t.Errorf("Describe(get_page_text_content) = %q", got)
	}
}

func TestDescribeExtraKeysLabeledAndSorted(t *testing.T) {
	got := Describe("generate_image", json.RawMessage(`{"prompt": "a red fox", "output_path": "fox.png", "size": "1024x1024"}`))
	if got != "🎨 Generate image: a red fox, size=1024x1024, path=fox.png" {
		t.Errorf("Describe(generate_image) = %q", got)
	}
}

func TestDescribeUnknownToolHumanizesName(t *testing.T) {
	got := Describe("fetch_weather_report", json.RawMessage(`{"city": "Oslo"}`))
	if got != "Fetch weather report: city=Oslo" {
		t.Errorf("Describe(unknown) = %q", got)
	}
}

func TestDescribeNumericAndBoolValues(t *testing.T) {
	got := Describe("list_working_directory", json.RawMessage(`{"max_depth": 2}`))
	if got != "📂 List working directory: 2" {
		t.Errorf("Describe(list_working_directory) = %q", got)
	}

	got = Describe("fetch_weather_report", json.RawMessage(`{"metric": true}`))
	if got != "Fetch weather report: metric=true" {
		t.Errorf("Describe with bool = %q", got)
	}
}

func TestDescribeBadOrEmptyInput(t *testing.T) {
	if got := Describe("search_web", nil); got != "🔎 Web search" {
		t.Errorf("Describe with nil input = %q", got)
	}
	if got := Describe("search_web", json.RawMessage(`[1, 2]`)); got != "🔎 Web search" {
		t.Errorf("Describe with non-object input = %q", got)
	}
}

func TestDescribeTruncatesLongValues(t *testing.T) {
	long := strings.Repeat("x", 200)
	got := Describe("search_web", json.RawMessage(`{"query": "`+long+`"}`))
	if len(got) > 120 {
		t.Errorf("Describe did not truncate, len = %d", len(got))
	}
	if !strings.Contains(got, "...") {
		t.Errorf("truncated value missing ellipsis: %q", got)
	}
}

func TestDescribeCapsDetailEntries(t *testing.T) {
	got := Describe("fetch_weather_report", json.RawMessage(`{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5", "f": "6"}`))
	if count := strings.Count(got, "="); count != maxDetailEntries {
		t.Errorf("detail entries = %d, want %d: %q", count, maxDetailEntries, got)
	}
}

func TestDescribeSkipsCompositeValues(t *testing.T) {
	got := Describe("fetch_weather_report", json.RawMessage(`{"cities": ["Oslo", "Bergen"], "city": "Oslo"}`))
	if got != "Fetch weather report: city=Oslo" {
		t.Errorf("Describe with composite value = %q", got)
	}
}
