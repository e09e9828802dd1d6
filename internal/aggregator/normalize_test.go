package aggregator

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Oxford Circus Underground Station", "oxford circus"},
		{"OXFORD CIRCUS", "oxford circus"},
		{"King's Cross St. Pancras", "kings cross st pancras"},
		{"Paddington (H&C Line) Underground Station", "paddington"},
		{"Heathrow Terminals 2 & 3", "heathrow terminals 2 and 3"},
		{"Shepherd's Bush Market", "shepherds bush market"},
		{"Canada Water Rail Station", "canada water"},
		{"Café Königstraße", "cafe konigstraße"},
		{"  Bank   DLR Station ", "bank"},
		{"Station", "station"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, expected %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Oxford Circus Underground Station", "Oxford Circus"},
		{"Canada Water Rail Station", "Canada Water"},
		{"Bank", "Bank"},
		{"Walthamstow Central Station", "Walthamstow Central"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.in); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestBestMatchingStationName(t *testing.T) {
	aliases := NewAliases(map[string]string{"Islington": "Angel"})
	stops := []string{"Euston", "King's Cross St. Pancras", "Angel", "Old Street", "Moorgate"}

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"exact", "Old Street", "Old Street"},
		{"case and suffix", "MOORGATE UNDERGROUND STATION", "Moorgate"},
		{"query contains stop", "Euston Square Gardens Euston", "Euston"},
		{"stop contains query", "St. Pancras", "King's Cross St. Pancras"},
		{"alias", "Islington", "Angel"},
		{"fallback to last", "Battersea Power Station", "Moorgate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BestMatchingStationName(stops, tt.query, aliases); got != tt.want {
				t.Errorf("BestMatchingStationName(%q) = %q, expected %q", tt.query, got, tt.want)
			}
		})
	}

	// containment fails both ways; only the postcode differs
	withPostcodes := []string{"Barbican", "Old Street EC2", "Moorgate"}
	if got := BestMatchingStationName(withPostcodes, "Old Street EC1V", aliases); got != "Old Street EC2" {
		t.Errorf("postcode match: got %q", got)
	}

	if got := BestMatchingStationName(nil, "Angel", aliases); got != "" {
		t.Errorf("empty stops: got %q", got)
	}
}
