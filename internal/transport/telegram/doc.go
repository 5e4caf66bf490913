// Package telegram is the Telegram Bot API backend.
//
// Source chats must deliver their messages to the bot: add it as an admin
// of a channel, or disable privacy mode for groups. The bot must not have a
// webhook set, since the backlog is read with getUpdates.
package telegram
