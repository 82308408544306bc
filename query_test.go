package apibuilder

import (
	"net/url"
	"reflect"
	"testing"
)

func TestQuery(t *testing.T) {
	got := Query(map[string]any{
		"s":     "text",
		"i":     7,
		"i64":   int64(-3),
		"f":     2.5,
		"ss":    []string{"a", "b"},
		"is":    []int{1, 2},
		"mixed": []any{"x", 3},
		"nil":   nil,
	})
	want := url.Values{
		"s":     {"text"},
		"i":     {"7"},
		"i64":   {"-3"},
		"f":     {"2.5"},
		"ss":    {"a", "b"},
		"is":    {"1", "2"},
		"mixed": {"x", "3"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Query() = %v, want %v", got, want)
	}
}

func TestQueryNumericKinds(t *testing.T) {
	n := 11
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"int8", int8(-8), []string{"-8"}},
		{"int16", int16(16), []string{"16"}},
		{"int32", int32(3), []string{"3"}},
		{"uint", uint(7), []string{"7"}},
		{"uint8", uint8(255), []string{"255"}},
		{"uint16", uint16(16), []string{"16"}},
		{"uint32", uint32(32), []string{"32"}},
		{"uint64", uint64(1 << 40), []string{"1099511627776"}},
		{"float32", float32(1.5), []string{"1.5"}},
		{"float64", 0.1, []string{"0.1"}},
		{"bool", true, []string{"true"}},
		{"pointer", &n, []string{"11"}},
		{"float slice", []float64{1.5, 2}, []string{"1.5", "2"}},
		{"int64 slice", []int64{-1, 9}, []string{"-1", "9"}},
		{"uint array", [2]uint{4, 5}, []string{"4", "5"}},
		{"nested slice", []any{[]int32{1}, uint(2)}, []string{"1", "2"}},
		{"bytes", []byte("raw"), []string{"raw"}},
		{"other", struct{ A int }{1}, []string{"{1}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Query(map[string]any{"k": tt.value})["k"]
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Query(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestQueryEncodesEveryValue(t *testing.T) {
	got := Query(map[string]any{"a": int32(3), "b": []float64{1.5}, "c": uint(7), "d": true}).Encode()
	if want := "a=3&b=1.5&c=7&d=true"; got != want {
		t.Fatalf("Encode() = %q, want %q", got, want)
	}
}

func TestMergeQuery(t *testing.T) {
	defaults := url.Values{"a": {"1"}, "b": {"1", "2"}}
	merged := mergeQuery(defaults, url.Values{"b": {"9"}, "c": {"3"}})

	want := url.Values{"a": {"1"}, "b": {"9"}, "c": {"3"}}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("mergeQuery() = %v, want %v", merged, want)
	}

	merged["a"][0] = "changed"
	if defaults.Get("a") != "1" {
		t.Fatal("mergeQuery must not alias the defaults")
	}
}

func TestEncodeQuery(t *testing.T) {
	if got := encodeQuery(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := encodeQuery(url.Values{"z": {"1"}, "a": {"x y"}}); got != "a=x+y&z=1" {
		t.Fatalf("unexpected encoding: %s", got)
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		req    Request
		expect string
	}{
		{"bare", nil, Request{Path: "/users"}, "https://api.test/users"},
		{"prefix", []Option{WithPath("/v2")}, Request{Path: "/users"}, "https://api.test/v2/users"},
		{"request query", nil, Request{Path: "/users", Query: url.Values{"page": {"2"}}}, "https://api.test/users?page=2"},
		{
			"default query",
			[]Option{WithDefaultQuery(url.Values{"lang": {"en"}})},
			Request{Path: "/users"},
			"https://api.test/users?lang=en",
		},
		{"empty query values", nil, Request{Path: "/users", Query: url.Values{}}, "https://api.test/users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("https://api.test", tt.opts...)
			defer b.Close()
			if got := b.buildURL(&tt.req); got != tt.expect {
				t.Fatalf("buildURL() = %s, want %s", got, tt.expect)
			}
		})
	}
}
