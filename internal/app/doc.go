// Package app composes the session publishing workflow into a running
// application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Value types that enforce their own invariants
//	│   ├── session/        # Sessions, lifecycle states, transition table
//	│   ├── history/        # Append-only status history
//	│   ├── content/        # Versioned content ledger
//	│   ├── readiness/      # Checks, policy and verdicts
//	│   └── monitor/        # Attempts and health reports
//	├── storage/            # Store interfaces and sentinel errors
//	│   ├── memory/         # In-memory implementation for tests and local runs
//	│   ├── postgres/       # PostgreSQL implementation
//	│   └── rediscache/     # Transient readiness verdict cache
//	├── services/           # Sessions, readiness, lifecycle, publishing,
//	│                       # monitor and content services
//	├── httpapi/            # REST surface
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # Process wiring from configuration
//	└── system/             # Service lifecycle manager
//
// # Dependency Direction
//
//	cmd/workflowd
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app (composition)
//	                               │
//	                               ├──► services ──► domain
//	                               │        │
//	                               │        └──► storage (interfaces)
//	                               │
//	                               └──► storage/{memory,postgres,rediscache}
//
// Status changes only ever go through the lifecycle service, which is also
// the only writer of status history. Publishing and the sweep call into it
// like any other client.
package app
