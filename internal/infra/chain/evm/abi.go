package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const gameABIJSON = `[{
	"type": "event",
	"name": "RunCompleted",
	"anonymous": false,
	"inputs": [
		{"name": "player", "type": "address", "indexed": true},
		{"name": "xpEarned", "type": "uint256", "indexed": false},
		{"name": "cpEarned", "type": "uint256", "indexed": false},
		{"name": "dbpMinted", "type": "uint256", "indexed": false},
		{"name": "duration", "type": "uint256", "indexed": false},
		{"name": "bonusThrowUsed", "type": "bool", "indexed": false},
		{"name": "boostsUsed", "type": "string[]", "indexed": false}
	]
}]`

const badgeABIJSON = `[{
	"type": "function",
	"name": "mintAchievement",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "player", "type": "address"},
		{"name": "tokenId", "type": "uint256"},
		{"name": "xp", "type": "uint256"},
		{"name": "season", "type": "uint256"}
	],
	"outputs": []
}]`

// MintMethod is the badge contract function called for every mint.
const MintMethod = "mintAchievement"

// RunCompletedEvent is the game contract event recovery scans for.
const RunCompletedEvent = "RunCompleted"

var (
	gameABI  = mustParse(gameABIJSON)
	badgeABI = mustParse(badgeABIJSON)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
