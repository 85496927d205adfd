package jwt

import (
	"errors"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/tokencore/internal/observability/logger"
)

// ErrInvalidToken es el único negativo que cruza el boundary: estructura,
// firma, issuer o audience inválidos se colapsan acá. La razón específica se
// loguea internamente.
var ErrInvalidToken = errors.New("invalid token")

// ValidateAndDecode parsea un token emitido por este signer.
//
// Con validateSignature=false devuelve las claims sin chequeo criptográfico
// (camino de introspección para callers que ya autenticaron al bearer por
// otro canal). Con true verifica firma, issuer y audience, y saltea expiry a
// propósito: quien necesite semántica de expiración chequea el claim "exp"
// manualmente (esto permite introspectar tokens técnicamente vencidos).
func (s *Signer) ValidateAndDecode(tokenStr string, validateSignature bool) (jwtv5.MapClaims, error) {
	if !validateSignature {
		parser := jwtv5.NewParser()
		tok, _, err := parser.ParseUnverified(tokenStr, jwtv5.MapClaims{})
		if err != nil {
			logger.L().Debug("token parse failed", logger.Reason(err.Error()))
			return nil, ErrInvalidToken
		}
		claims, ok := tok.Claims.(jwtv5.MapClaims)
		if !ok {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}

	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{s.keys.Alg()}),
		// Sin validación automática de claims: exp se saltea a propósito y
		// iss/aud se chequean a mano abajo.
		jwtv5.WithoutClaimsValidation(),
	)
	tok, err := parser.Parse(tokenStr, func(t *jwtv5.Token) (any, error) {
		return s.keys.PublicKey(), nil
	})
	if err != nil || !tok.Valid {
		// Firma inválida es señal potencial de tamper: warn, no debug.
		logger.L().Warn("token signature validation failed")
		return nil, ErrInvalidToken
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	if iss, _ := claims["iss"].(string); iss != s.Issuer {
		logger.L().Debug("token issuer mismatch", logger.Reason("iss"))
		return nil, ErrInvalidToken
	}
	if !audMatches(claims["aud"], s.Audience) {
		logger.L().Debug("token audience mismatch", logger.Reason("aud"))
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// audMatches acepta aud como string o como lista (ambas formas son JWT válidos).
func audMatches(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, a := range v {
			if a == want {
				return true
			}
		}
	}
	return false
}
