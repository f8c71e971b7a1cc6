/*
Package ports defines the driven ports (interfaces) for the wadialog engine.

These interfaces decouple the dialog engine from external implementations,
allowing it to work with various stage sources, session backends and
transport clients.

# Key Interfaces

  - StageStorage: Resolves Stage definitions by name and lists global triggers.
  - SessionBackend: Persists opaque per-session values (memory, Redis).
  - DistributedLocker: Provides distributed locking across replicas.
  - Sender: Renders and delivers a resolved stage to the platform.
  - HistoryLogger: Records the conversation transcript.
*/
package ports
