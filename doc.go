// Package erpauth is the authentication and second-factor engine for the ERP
// backend. It owns credential verification, TOTP and email one-time codes,
// the per-identity lockout, and access/refresh token issuance, behind
// storage, mail, and audit interfaces supplied by the caller.
//
// Build an engine with the Builder:
//
//	engine, err := erpauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithUserStore(users).
//		WithMailer(mailer).
//		Build()
//
// All caller-visible failures come from the closed sentinel set in errors.go;
// callers branch with errors.Is, never by matching message text.
package erpauth
