package api

import (
	"github.com/ratescan/ratescan/internal/contract"
	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/documents"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/internal/schedules"
)

// Domain holds all domain systems that comprise the API. The same
// systems back the stage workers, so the server assembles one Domain
// and shares it.
type Domain struct {
	Jobs      jobs.System
	Dispatch  dispatch.System
	Documents documents.System
	Schedules schedules.System
	Contracts contract.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) *Domain {
	db := runtime.Database.Connection()

	jobsSystem := jobs.New(db, runtime.Logger, runtime.Pagination)
	dispatchSystem := dispatch.New(runtime.Queue, jobsSystem, runtime.Logger)

	docsSystem := documents.New(
		db,
		runtime.Storage,
		dispatchSystem,
		runtime.Logger,
		runtime.Pagination,
	)

	schedulesSystem := schedules.New(
		db,
		dispatchSystem,
		runtime.Logger,
		runtime.Pagination,
	)

	contractsSystem := contract.New(db, runtime.Logger)

	return &Domain{
		Jobs:      jobsSystem,
		Dispatch:  dispatchSystem,
		Documents: docsSystem,
		Schedules: schedulesSystem,
		Contracts: contractsSystem,
	}
}
