// Package authcore is the authentication and authorization core of the
// ministry web portal: credential verification with anomaly risk scoring,
// adaptive two-factor step-up, JWT access/refresh token issuance, a
// session registry with background expiry, login throttling, and a
// role-based permission engine.
//
// Build an [Engine] through [NewBuilder], giving it a [UserProvider]
// adapter over the portal's user store:
//
//	engine, err := authcore.NewBuilder().
//		WithConfig(cfg).
//		WithUserProvider(users).
//		WithRedis(redisClient).
//		Build()
//	if err != nil {
//		...
//	}
//	engine.Start(ctx)
//	defer engine.Close()
//
// HTTP transport lives in the httpapi and middleware packages; the engine
// itself is transport-agnostic and carries client network context on the
// request context via [WithClientIP] and [WithUserAgent].
package authcore
