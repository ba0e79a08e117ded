// Package database builds the process-wide database engine from a datasource
// string and applies schema migrations with golang-migrate.
package database
