package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/viper"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
)

const testSecret = "a-secret-that-is-long-enough-for-hs256"

func configureVerifier() {
	viper.Set("auth-jwt-secret", testSecret)
	viper.Set("auth-jwt-required-issuer", "https://issuer.example.com")
	viper.Set("auth-jwt-required-audience", "minipolicer")
	viper.Set("auth-jwt-principal-claim", "email")
}

func makeToken(email string) string {

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "https://issuer.example.com",
		"aud":   "minipolicer",
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	s, err := t.SignedString([]byte(testSecret))
	if err != nil {
		panic(err)
	}

	return s
}

func writeFile(dir string, name string, content string) string {

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		panic(err)
	}

	return p
}

func runCheck(input string) (api.Response, error) {

	out := &bytes.Buffer{}

	Check.SetContext(context.Background())
	Check.SetIn(strings.NewReader(input))
	Check.SetOut(out)
	defer Check.SetOut(nil)

	err := Check.RunE(Check, []string{"-"})

	resp := api.Response{}
	if out.Len() > 0 {
		if derr := json.Unmarshal(out.Bytes(), &resp); derr != nil {
			panic(derr)
		}
	}

	return resp, err
}

func TestCheck(t *testing.T) {

	Convey("Given a rules file and a configured verifier", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		configureVerifier()

		dir := t.TempDir()
		viper.Set("rules", writeFile(dir, "rules.yaml", `
forbidden:
  bob@example.com:
    - longRunningOperation
`))

		Convey("A forbidden tool call should be denied", func() {

			resp, err := runCheck(`{"type":"request","agent":{"token":"` + makeToken("bob@example.com") + `"},"mcp":{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"longRunningOperation"}}}`)
			So(errors.Is(err, ErrDenied), ShouldBeTrue)
			So(resp.Allow, ShouldBeFalse)
			So(resp.Reasons, ShouldResemble, []string{"forbidden method call longRunningOperation tools/call"})
		})

		Convey("Another identity should be allowed", func() {

			resp, err := runCheck(`{"type":"request","agent":{"token":"` + makeToken("alice@example.com") + `"},"mcp":{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"longRunningOperation"}}}`)
			So(err, ShouldBeNil)
			So(resp.Allow, ShouldBeTrue)
		})

		Convey("A missing token should be denied", func() {

			resp, err := runCheck(`{"type":"request","mcp":{"jsonrpc":"2.0","id":1,"method":"tools/list"}}`)
			So(errors.Is(err, ErrDenied), ShouldBeTrue)
			So(resp.Reasons, ShouldResemble, []string{"no valid credential"})
		})

		Convey("Invalid json should fail", func() {

			_, err := runCheck(`{"type":`)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrDenied), ShouldBeFalse)
		})
	})
}

func TestMakeGatewayAuth(t *testing.T) {

	Convey("Given various gateway flags", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		Convey("Nothing set should return no auth", func() {
			a, err := makeGatewayAuth()
			So(err, ShouldBeNil)
			So(a, ShouldBeNil)
		})

		Convey("A token should return a bearer auth", func() {
			viper.Set("gateway-token", "tok")
			a, err := makeGatewayAuth()
			So(err, ShouldBeNil)
			So(a.Type(), ShouldEqual, "Bearer")
		})

		Convey("User without password should fail", func() {
			viper.Set("gateway-user", "user")
			_, err := makeGatewayAuth()
			So(err, ShouldNotBeNil)
		})

		Convey("Token and basic should fail", func() {
			viper.Set("gateway-token", "tok")
			viper.Set("gateway-user", "user")
			viper.Set("gateway-password", "pass")
			_, err := makeGatewayAuth()
			So(err, ShouldNotBeNil)
		})
	})
}

func TestMakeVerifier(t *testing.T) {

	Convey("Given no key material", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		viper.Set("auth-jwt-required-issuer", "iss")
		viper.Set("auth-jwt-required-audience", "aud")

		_, err := makeVerifier()
		So(err, ShouldNotBeNil)
	})

	Convey("Given a missing keys file", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		configureVerifier()
		viper.Set("auth-jwt-keys", filepath.Join(t.TempDir(), "nope.pem"))

		_, err := makeVerifier()
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "unable to read jwt keys")
	})

	Convey("Given a secret", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		configureVerifier()

		v, err := makeVerifier()
		So(err, ShouldBeNil)

		p, err := v.Verify(makeToken("bob@example.com"))
		So(err, ShouldBeNil)
		So(p.Identity, ShouldEqual, "bob@example.com")
	})
}

func TestTLSServerConfig(t *testing.T) {

	Convey("Given no tls flags", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		cfg, err := tlsServerConfigFromFlags()
		So(err, ShouldBeNil)
		So(cfg, ShouldBeNil)
		So(mtlsMode(cfg), ShouldEqual, "NoClientCert")
	})

	Convey("Given a self signed certificate", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		viper.Set("tls-server-self-signed", true)

		cfg, err := tlsServerConfigFromFlags()
		So(err, ShouldBeNil)
		So(cfg, ShouldNotBeNil)
		So(len(cfg.Certificates), ShouldEqual, 1)
	})

	Convey("Given a client ca without certificate", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		viper.Set("tls-server-client-ca", filepath.Join(t.TempDir(), "nope.pem"))

		_, err := tlsServerConfigFromFlags()
		So(err, ShouldNotBeNil)
	})
}

func TestRulesCommand(t *testing.T) {

	Convey("Given a valid rules file", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		p := writeFile(t.TempDir(), "rules.yaml", `
posture: deny
allowed:
  "*": [tools/list]
`)

		out := &bytes.Buffer{}
		Rules.SetOut(out)
		defer Rules.SetOut(nil)

		So(Rules.RunE(Rules, []string{p}), ShouldBeNil)
		So(out.String(), ShouldContainSubstring, "posture:     deny")
		So(out.String(), ShouldContainSubstring, "identity:    * forbidden=0 allowed=1")
	})

	Convey("Given an invalid rules file", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		p := writeFile(t.TempDir(), "rules.yaml", `posture: maybe`)

		So(Rules.RunE(Rules, []string{p}), ShouldNotBeNil)
	})

	Convey("Given no rules file", t, func() {

		viper.Reset()
		Reset(viper.Reset)

		So(Rules.RunE(Rules, nil), ShouldNotBeNil)
	})
}
