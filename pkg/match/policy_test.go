package match

import "testing"

func TestExactAlwaysMatches(t *testing.T) {
	for _, th := range []float64{0, 0.5, 0.85, 1, 2} {
		for _, s := range []string{"", "blue river", "  spaced  "} {
			if !Matches(s, s, th, false) || !Matches(s, s, th, true) {
				t.Errorf("Matches(%q, %q, %v) should be true", s, s, th)
			}
		}
	}
}

func TestDisjointNeverMatches(t *testing.T) {
	for _, th := range []float64{0.01, 0.5, 0.85, 1} {
		if Matches("apple banana", "river ocean", th, true) {
			t.Errorf("disjoint sets matched at threshold %v", th)
		}
	}
}

func TestFuzzyDisabled(t *testing.T) {
	if Matches("Apple Banana", "apple banana", 0.1, false) {
		t.Error("non-exact pair should fail with fuzzy matching off")
	}
	if !Matches("Apple Banana", "apple banana", 0.1, true) {
		t.Error("case-insensitive pair should pass with fuzzy matching on")
	}
}

func TestEmptyExpected(t *testing.T) {
	if Matches("   ", "anything", 0, true) {
		t.Error("whitespace-only expected should never fuzzy match")
	}
	if Similarity("", "x") != 0 {
		t.Error("empty expected similarity should be 0")
	}
}

func TestAsymmetricOverlap(t *testing.T) {
	expected := "one two three four five six seven"
	verbose := "well one two three four five six and then seven more words follow"
	if !Matches(expected, verbose, 0.85, true) {
		t.Error("verbose answer containing all expected tokens should match")
	}
	if Matches(verbose, expected, 0.85, true) {
		t.Error("reverse direction should not match")
	}
}

func TestThresholdBoundary(t *testing.T) {
	// 6 of 7 distinct tokens is 0.857.
	expected := "a b c d e f g"
	actual := "a b c d e f"
	if !Matches(expected, actual, 0.85, true) {
		t.Error("6/7 should pass 0.85")
	}
	if Matches(expected, actual, 0.9, true) {
		t.Error("6/7 should fail 0.9")
	}
	// 5 of 7 is 0.714.
	if Matches(expected, "a b c d e", 0.85, true) {
		t.Error("5/7 should fail 0.85")
	}
}

func TestDuplicateTokensCountOnce(t *testing.T) {
	if got := Similarity("dog dog dog cat", "dog"); got != 0.5 {
		t.Errorf("expected 0.5, got %v", got)
	}
}

func TestPolicy(t *testing.T) {
	p := Default()
	if p.Threshold != DefaultThreshold || !p.Fuzzy {
		t.Errorf("unexpected default policy %+v", p)
	}
	if !p.Matches("RED sun", "red SUN") {
		t.Error("policy should delegate to fuzzy match")
	}
	strict := Policy{Threshold: 0.85}
	if strict.Matches("RED sun", "red SUN") {
		t.Error("strict policy should require exact match")
	}
}
