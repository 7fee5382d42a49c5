package db

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/frankban/quicktest"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/andys/listimport/config"
	"github.com/andys/listimport/mapper"
	"github.com/andys/listimport/store"
)

func TestBuildDSN_MySQL(t *testing.T) {
	c := quicktest.New(t)
	dbType, dsn, err := buildDSN("mysql://reader:pw@db.local:3306/lists", store.Credentials{}, time.UTC)
	c.Assert(err, quicktest.IsNil)
	c.Assert(dbType, quicktest.Equals, MySQL)

	parsed, err := mysql.ParseDSN(dsn)
	c.Assert(err, quicktest.IsNil)
	c.Assert(parsed.User, quicktest.Equals, "reader")
	c.Assert(parsed.Passwd, quicktest.Equals, "pw")
	c.Assert(parsed.Addr, quicktest.Equals, "db.local:3306")
	c.Assert(parsed.DBName, quicktest.Equals, "lists")
	c.Assert(parsed.ParseTime, quicktest.IsTrue)
}

func TestBuildDSN_MySQLLocation(t *testing.T) {
	c := quicktest.New(t)
	berlin, err := time.LoadLocation("Europe/Berlin")
	c.Assert(err, quicktest.IsNil)

	_, dsn, err := buildDSN("mysql://u:p@localhost:3306/d", store.Credentials{}, berlin)
	c.Assert(err, quicktest.IsNil)
	parsed, err := mysql.ParseDSN(dsn)
	c.Assert(err, quicktest.IsNil)
	c.Assert(parsed.Loc.String(), quicktest.Equals, "Europe/Berlin")

	// The driver sends times converted to its location
	created, ok := mapper.ParseTimestamp("2021-01-05", berlin)
	c.Assert(ok, quicktest.IsTrue)
	c.Assert(created.In(parsed.Loc).Format("2006-01-02 15:04:05"), quicktest.Equals, "2021-01-05 00:00:00")

	_, dsn, err = buildDSN("mysql://u:p@localhost:3306/d", store.Credentials{}, time.UTC)
	c.Assert(err, quicktest.IsNil)
	parsed, err = mysql.ParseDSN(dsn)
	c.Assert(err, quicktest.IsNil)
	c.Assert(parsed.Loc, quicktest.Equals, time.UTC)
}

func TestConnect_InvalidTimezone(t *testing.T) {
	c := quicktest.New(t)
	_, err := Connect(context.Background(), "mysql://u:p@localhost:3306/d", store.Credentials{},
		&config.Config{Timezone: "Nowhere/Atlantis"})
	c.Assert(err, quicktest.ErrorMatches, "failed to load timezone: .*")
}

func TestBuildDSN_CredentialsReplaceUserInfo(t *testing.T) {
	c := quicktest.New(t)
	creds := store.Credentials{ClientID: "importer", ClientSecret: "s3cret"}

	_, dsn, err := buildDSN("mysql://reader:pw@db.local/lists", creds, time.UTC)
	c.Assert(err, quicktest.IsNil)
	parsed, err := mysql.ParseDSN(dsn)
	c.Assert(err, quicktest.IsNil)
	c.Assert(parsed.User, quicktest.Equals, "importer")
	c.Assert(parsed.Passwd, quicktest.Equals, "s3cret")

	dbType, dsn, err := buildDSN("postgres://reader@db.local/lists?sslmode=disable", creds, time.UTC)
	c.Assert(err, quicktest.IsNil)
	c.Assert(dbType, quicktest.Equals, PostgreSQL)
	u, err := url.Parse(dsn)
	c.Assert(err, quicktest.IsNil)
	c.Assert(u.User.Username(), quicktest.Equals, "importer")
	pw, _ := u.User.Password()
	c.Assert(pw, quicktest.Equals, "s3cret")
	c.Assert(u.Query().Get("sslmode"), quicktest.Equals, "disable")
}

func TestBuildDSN_Errors(t *testing.T) {
	c := quicktest.New(t)
	_, _, err := buildDSN("sqlite:///tmp/lists.db", store.Credentials{}, time.UTC)
	c.Assert(err, quicktest.ErrorMatches, "unsupported database type: sqlite")

	_, _, err = buildDSN("://nope", store.Credentials{}, time.UTC)
	c.Assert(err, quicktest.ErrorMatches, "invalid database URL: .*")
}

func TestClassifyError(t *testing.T) {
	c := quicktest.New(t)
	plain := errors.New("syntax error")

	tests := []struct {
		name        string
		err         error
		auth        bool
		rateLimited bool
	}{
		{name: "mysql access denied", err: &mysql.MySQLError{Number: 1045, Message: "Access denied"}, auth: true},
		{name: "mysql too many connections", err: &mysql.MySQLError{Number: 1040, Message: "Too many connections"}, rateLimited: true},
		{name: "mysql user resource limit", err: &mysql.MySQLError{Number: 1226, Message: "max_queries_per_hour"}, rateLimited: true},
		{name: "mysql duplicate key", err: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}},
		{name: "postgres bad password", err: &pq.Error{Code: "28P01"}, auth: true},
		{name: "postgres too many connections", err: &pq.Error{Code: "53300"}, rateLimited: true},
		{name: "postgres unique violation", err: &pq.Error{Code: "23505"}},
		{name: "other", err: plain},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *quicktest.C) {
			got := classifyError(tt.err)
			c.Assert(errors.Is(got, store.ErrAuth), quicktest.Equals, tt.auth)
			_, limited := store.IsRateLimited(got)
			c.Assert(limited, quicktest.Equals, tt.rateLimited)
			c.Assert(errors.Is(got, tt.err), quicktest.IsTrue)
		})
	}
	c.Assert(classifyError(nil), quicktest.IsNil)
}
