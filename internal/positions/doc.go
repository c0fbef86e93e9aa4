// Package positions persists the three taught zone targets (RobometLoad,
// XZTransfer, SrasLoad) and serves them to the transfer engine.
//
// Missing or unreadable targets are never fatal: they load as the stage
// origin (0, 0, 0), which makes every zone overlap Home. Operators notice
// this when all zone indicators light at once after connecting.
//
// Files in the legacy transfer_positions.json format can be imported and
// exported for compatibility with the previous station software.
package positions
