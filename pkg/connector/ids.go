// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
)

// UserServer is the address domain for individual WhatsApp users.
const UserServer = "s.whatsapp.net"

// MakeJID converts a phone number into a network address. Inputs that are
// already address-qualified (contain "@") are returned unchanged; anything
// else is stripped to its digits and suffixed with [UserServer]. An input
// without digits yields "".
func MakeJID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	return digits + "@" + UserServer
}

// ParsePhone extracts the phone number from a user address, dropping the
// server and the device suffix: "5511999999999:1@s.whatsapp.net" becomes
// "5511999999999". Addresses on any other server, such as groups, are
// returned unchanged so that [MakeJID] maps them back to the same chat.
func ParsePhone(jid string) string {
	user, server, ok := strings.Cut(jid, "@")
	if ok && server != UserServer {
		return jid
	}
	user, _, _ = strings.Cut(user, ":")
	return user
}
