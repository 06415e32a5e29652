package connector

import "github.com/saks635/NL2SQL-Convertor/internal/model"

// SpecFromSource builds the connection spec of a saved source.
func SpecFromSource(src model.Source) ConnectionSpec {
	return ConnectionSpec{
		Driver:         src.Driver,
		DSN:            src.DSN,
		Path:           src.Path,
		Host:           src.Host,
		Port:           src.Port,
		User:           src.User,
		Password:       src.Password,
		Database:       src.Database,
		Schema:         src.Schema,
		AllowMutations: src.AllowMutations,
		Pool: PoolOptions{
			MaxOpenConns:    src.Pool.MaxOpenConns,
			MaxIdleConns:    src.Pool.MaxIdleConns,
			ConnMaxLifetime: src.Pool.ConnMaxLifetime,
			ConnMaxIdleTime: src.Pool.ConnMaxIdleTime,
		},
	}
}

// Public returns src with its password removed and any DSN password masked,
// fit for listing.
func Public(src model.Source) model.Source {
	src.Password = ""
	if src.DSN != "" {
		src.DSN = MaskDriverDSN(src.Driver, src.DSN)
	}
	return src
}
