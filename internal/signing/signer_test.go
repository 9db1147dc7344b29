package signing

import (
	"strings"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		secret  string
		payload string
	}{
		{"simple", "whsec_abc123", `{"event":"task.completed"}`},
		{"empty payload", "whsec_abc123", ``},
		{"unicode", "whsec_xyz", `{"name":"café ☕"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := Sign(tc.secret, []byte(tc.payload))
			if !strings.HasPrefix(sig, "sha256=") {
				t.Fatalf("signature missing sha256= prefix: %q", sig)
			}
			if !Verify(tc.secret, []byte(tc.payload), sig) {
				t.Fatalf("round trip failed for %q", tc.payload)
			}
		})
	}
}

func TestSignDeterministic(t *testing.T) {
	body := []byte(`{"event":"email.received","data":{"id":"em_1"}}`)
	if Sign("s", body) != Sign("s", body) {
		t.Fatal("identical bytes produced different signatures")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	body := []byte(`{"event":"task.created"}`)
	sig := Sign("secret", body)

	tampered := append([]byte(nil), body...)
	tampered[2] ^= 0x01
	if Verify("secret", tampered, sig) {
		t.Fatal("verify accepted a tampered payload")
	}
	if Verify("secreT", body, sig) {
		t.Fatal("verify accepted the wrong secret")
	}
	if Verify("secret", body, "sha256=deadbeef") {
		t.Fatal("verify accepted a bogus signature")
	}
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": false}})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":1,"b":2,"c":{"y":false,"z":true}}`
	if string(a) != want {
		t.Fatalf("canonical form = %s, want %s", a, want)
	}
}

func TestCanonicalJSONPreservesNumbers(t *testing.T) {
	out, err := CanonicalJSON(map[string]any{"big": int64(9007199254740993)})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"big":9007199254740993}` {
		t.Fatalf("number mangled: %s", out)
	}
}
