/*
Package domain contains the core domain models of the wadialog engine.

It defines the declarative stages a conversation moves through, the routes and
triggers that connect them, the normalized inbound message, and the hook
argument threaded through a turn. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - Stage: A named, immutable definition of one outbound message and its routes.
  - Message: A closed set of message shapes (text, button, list, flow, ...).
  - Route / Trigger: Literal or regex matchers leading to a next stage.
  - HookArg: The owned value handed to hooks during a turn.
  - User / Input: The sender identity and the classified inbound message.
*/
package domain
