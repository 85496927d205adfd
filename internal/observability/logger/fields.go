package logger

import "go.uber.org/zap"

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// TenantID crea un campo para el ID del tenant.
func TenantID(v string) zap.Field {
	return zap.String("tenant_id", v)
}

// UserID crea un campo para el ID del usuario.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// ClientID crea un campo para el ID del cliente OAuth.
func ClientID(v string) zap.Field {
	return zap.String("client_id", v)
}

// TokenKind crea un campo para la clase de token (refresh, mfa, authcode).
func TokenKind(v string) zap.Field {
	return zap.String("token_kind", v)
}

// Reason crea un campo con la razón interna de un rechazo.
// La razón específica se loguea pero nunca se expone al caller.
func Reason(v string) zap.Field {
	return zap.String("reason", v)
}

// KID crea un campo para el key id de firma.
func KID(v string) zap.Field {
	return zap.String("kid", v)
}
