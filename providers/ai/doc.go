// Package ai defines the provider-agnostic conversation types shared by every
// memory backend. A [Message] is one conversational turn: its [MessageRole] and
// content are carried verbatim and never interpreted by storage code, while its
// ID is the key stores use to index and retrieve it.
package ai
