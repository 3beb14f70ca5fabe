// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"reflect"
	"sync"
	"testing"
)

func TestScan(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}

	tests := []struct {
		name          string
		input         string
		wantScore     int
		wantReasons   []string
		wantUncertain bool
	}{
		{
			name:        "Neutral text",
			input:       "The city council met on Tuesday to discuss the budget.",
			wantScore:   100,
			wantReasons: []string{},
		},
		{
			name:          "Two keywords",
			input:         "SHOCKING secret about your water",
			wantScore:     60,
			wantReasons:   []string{"Contains sensational keyword: 'shocking'", "Contains sensational keyword: 'secret'"},
			wantUncertain: true,
		},
		{
			name:        "Untrusted domain and keyword",
			input:       "Read it at yourforwarded.news, the miracle cure",
			wantScore:   30,
			wantReasons: []string{"Contains sensational keyword: 'miracle'", "Mentions an untrusted source: 'yourforwarded.news'"},
		},
		{
			name:          "Exclamations",
			input:         "Wow!!! look at this",
			wantScore:     85,
			wantReasons:   []string{"Contains excessive exclamation marks."},
			wantUncertain: false,
		},
		{
			name:        "Exactly two exclamations are fine",
			input:       "Hello! Goodbye!",
			wantScore:   100,
			wantReasons: []string{},
		},
		{
			name:        "Capitalization",
			input:       "THE GOVERNMENT is hiding it, okay?",
			wantScore:   85,
			wantReasons: []string{"Contains excessive capitalization: THE, GOVERNMENT"},
		},
		{
			name:        "Single shouted word is fine",
			input:       "This is HUGE news",
			wantScore:   100,
			wantReasons: []string{},
		},
		{
			name:        "Clamped at zero",
			input:       "shocking secret revealed: miracle doctors hate! at healthynews4u.info and secretenergy.blogspot.com!!!",
			wantScore:   0,
			wantReasons: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := engine.Scan(tc.input)

			if got.Score != tc.wantScore {
				t.Errorf("Expected score %d, got %d (reasons %v)", tc.wantScore, got.Score, got.Reasons)
			}
			if tc.wantReasons != nil && !reflect.DeepEqual(got.Reasons, tc.wantReasons) {
				t.Errorf("Expected reasons %q, got %q", tc.wantReasons, got.Reasons)
			}
			if got.Uncertain != tc.wantUncertain {
				t.Errorf("Expected uncertain=%v, got %v", tc.wantUncertain, got.Uncertain)
			}
		})
	}
}

func TestBand(t *testing.T) {
	b := Band{Min: 40, Max: 70}
	for score, want := range map[int]bool{39: false, 40: true, 55: true, 70: true, 71: false} {
		if b.Contains(score) != want {
			t.Errorf("Contains(%d) = %v, want %v", score, !want, want)
		}
	}
}

func TestParse_RejectsInvertedBand(t *testing.T) {
	_, err := Parse([]byte("uncertain:\n  min: 80\n  max: 20\n"))
	if err == nil {
		t.Fatal("Expected an error for an inverted band")
	}
}

func TestParse_LowercasesTerms(t *testing.T) {
	engine, err := Parse([]byte("keywords:\n  deduction: 10\n  terms: [FAKE]\nuncertain: {min: 0, max: 0}\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := engine.Scan("this is fake").Score; got != 90 {
		t.Errorf("Expected 90, got %d", got)
	}
}

func TestIsShouted(t *testing.T) {
	cases := map[string]bool{
		"NASA":      true,
		"COVID-19!": true,
		"Nasa":      false,
		"123":       false,
		"ÉTAT":      true,
	}
	for word, want := range cases {
		if got := isShouted(word); got != want {
			t.Errorf("isShouted(%q) = %v, want %v", word, got, want)
		}
	}
}

func TestEngine_Concurrency(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to initialize engine: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := engine.Scan("shocking news").Score; got != 80 {
				t.Errorf("Expected 80, got %d", got)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkScan(b *testing.B) {
	engine, _ := NewEngine()
	text := "SHOCKING! Doctors hate this miracle trick revealed at yourforwarded.news!!!"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Scan(text)
	}
}
