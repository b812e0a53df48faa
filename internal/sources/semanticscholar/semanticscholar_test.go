package semanticscholar

import (
	"testing"
)

func TestDecodeNested_CitingPapers(t *testing.T) {
	body := []byte(`{"data": [
		{"citingPaper": {"paperId": "abc123", "title": "Citing Work", "year": 2024,
			"authors": [{"name": "A. Author"}],
			"externalIds": {"ArXiv": "2401.00001", "CorpusId": 987654}}},
		{"citingPaper": {"paperId": "", "title": "Missing id, skipped"}},
		{"unrelatedKey": {"paperId": "zzz"}}
	]}`)

	cands, err := decodeNested(body, "citingPaper")
	if err != nil {
		t.Fatalf("decodeNested failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}

	c := cands[0]
	if c.SourceID != "abc123" || c.Title != "Citing Work" || c.Year != 2024 {
		t.Errorf("unexpected candidate: %+v", c)
	}
	if c.ExternalIDs["ArXiv"] != "2401.00001" {
		t.Errorf("arxiv external id = %q", c.ExternalIDs["ArXiv"])
	}
	if c.ExternalIDs["CorpusId"] == "" {
		t.Error("numeric CorpusId must be stringified, not dropped")
	}
	if c.ExternalIDs["semanticscholar"] != "abc123" {
		t.Error("own paper id must be recorded as an external id")
	}
	if len(c.Authors) != 1 || c.Authors[0] != "A. Author" {
		t.Errorf("authors = %v", c.Authors)
	}
}
