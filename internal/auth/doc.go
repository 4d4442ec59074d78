// Package auth checks operator credentials for the lanwake control surface.
//
// The controller has a single operator account created at provisioning:
//   - passwords are stored as Argon2id PHC strings
//   - callers authenticate with HTTP Basic or with a short-lived HS256
//     access token issued by the login endpoint
//   - token and username comparisons are constant time
package auth
