// Package postgres implements the store using pgx/v5 with raw SQL and
// embedded migrations. Pending signals are read in BIGSERIAL order and
// schedule locks are rows with an expiry.
package postgres
