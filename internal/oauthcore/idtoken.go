package oauthcore

import "github.com/golang-jwt/jwt/v5"

// idTokenAudience extracts the "aud" claim from an OIDC id_token without
// verifying its signature: the broker never trusts the id_token as an
// authorization decision, it only surfaces the audience for audit
// logging, so a verifying parse (which would need the provider's JWKS)
// isn't warranted here.
func idTokenAudience(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	aud, err := claims.GetAudience()
	if err != nil || len(aud) == 0 {
		return ""
	}
	return aud[0]
}
