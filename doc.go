// Package samlsp implements the service provider side of SAML 2.0 Web
// Browser SSO and Single Logout. It builds and delivers authentication and
// logout requests, correlates the answers against an outstanding request
// store, validates assertions and maintains the binding between local
// sessions and the federated subjects they were established for.
package samlsp
