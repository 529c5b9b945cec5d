package geoip

import "testing"

func vals(pairs ...interface{}) []sourceValue {
	var out []sourceValue
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, sourceValue{
			id:   pairs[i].(SourceID),
			attr: Attribute{Country: pairs[i+1].(string)},
		})
	}
	return out
}

func TestResolveCountry(t *testing.T) {
	prio := DefaultVotePriority()
	tests := []struct {
		name   string
		values []sourceValue
		want   string
		ok     bool
	}{
		{
			"clear majority",
			vals(SourceIP2Location, "US", SourceDBIP, "US", SourceGeoLite2, "US",
				SourceIPtoASN, "CA", SourceGeoWhois, "CA", SourceIPinfo, "MX"),
			"US", true,
		},
		{
			"three way tie goes to priority",
			vals(SourceIP2Location, "DE", SourceDBIP, "FR", SourceGeoLite2, "NL",
				SourceIPtoASN, "FR", SourceGeoWhois, "NL", SourceIPinfo, "DE"),
			"DE", true,
		},
		{
			"tie decided by highest ranked tied source",
			vals(SourceIP2Location, "JP", SourceDBIP, "KR", SourceGeoLite2, "KR",
				SourceIPtoASN, "JP", SourceGeoWhois, "CN", SourceIPinfo, "CN"),
			"JP", true,
		},
		{
			"single source",
			vals(SourceGeoWhois, "BR"),
			"BR", true,
		},
		{
			"minority priority source loses",
			vals(SourceIP2Location, "GB", SourceDBIP, "IE", SourceGeoLite2, "IE",
				SourceIPtoASN, "IE"),
			"IE", true,
		},
		{
			"no coverage",
			nil,
			"", false,
		},
	}
	for _, tt := range tests {
		got, ok := resolveCountry(tt.values, prio)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: resolveCountry = %q, %v, want %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResolveCountryUnlistedSource(t *testing.T) {
	custom := SourceID("router-dump")
	got, ok := resolveCountry(vals(custom, "CH"), DefaultVotePriority())
	if !ok || got != "CH" {
		t.Fatalf("resolveCountry = %q, %v, want CH, true", got, ok)
	}
}
