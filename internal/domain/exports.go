package domain

import (
	interfaces "microratchet/internal/domain/interfaces"
	types "microratchet/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Role = types.Role
)

const (
	KeySize        = types.KeySize
	BlockSize      = types.BlockSize
	MessageKeySize = types.MessageKeySize
	NonceSize      = types.NonceSize
	SignatureSize  = types.SignatureSize
	MacSize        = types.MacSize

	RoleServer = types.RoleServer
	RoleClient = types.RoleClient
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Digest              = interfaces.Digest
	BlockCipherFactory  = interfaces.BlockCipherFactory
	MAC                 = interfaces.MAC
	KeyAgreement        = interfaces.KeyAgreement
	KeyAgreementFactory = interfaces.KeyAgreementFactory
	Signer              = interfaces.Signer
	Verifier            = interfaces.Verifier
	Services            = interfaces.Services
	Storage             = interfaces.Storage
)

// RoleFor maps a client flag to its Role.
func RoleFor(isClient bool) Role { return types.RoleFor(isClient) }
