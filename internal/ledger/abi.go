package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const permissionManagerABI = `[
  {"type":"event","name":"TransferPerformed","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"PermissionGranted","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"withdrawalAddress","type":"address","indexed":false},
    {"name":"allowedTokens","type":"address[]","indexed":false},
    {"name":"expiresAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"PermissionUpdated","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"withdrawalAddress","type":"address","indexed":false},
    {"name":"allowedTokens","type":"address[]","indexed":false},
    {"name":"expiresAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"PermissionRevoked","inputs":[
    {"name":"user","type":"address","indexed":true}]},
  {"type":"event","name":"PermissionForceRevoked","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"by","type":"address","indexed":true}]},
  {"type":"event","name":"PermissionGrantedBySig","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"withdrawalAddress","type":"address","indexed":false},
    {"name":"allowedTokens","type":"address[]","indexed":false},
    {"name":"expiresAt","type":"uint256","indexed":false},
    {"name":"nonce","type":"uint256","indexed":false}]},
  {"type":"event","name":"MiniAppSessionGranted","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"app","type":"address","indexed":true},
    {"name":"sessionId","type":"bytes32","indexed":false},
    {"name":"allowedTokens","type":"address[]","indexed":false},
    {"name":"allowEntireWallet","type":"bool","indexed":false},
    {"name":"expiresAt","type":"uint256","indexed":false}]},
  {"type":"event","name":"MiniAppSessionRevoked","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"app","type":"address","indexed":true},
    {"name":"sessionId","type":"bytes32","indexed":false}]},
  {"type":"event","name":"MiniAppSessionAction","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"app","type":"address","indexed":true},
    {"name":"sessionId","type":"bytes32","indexed":false},
    {"name":"token","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"RoleGranted","inputs":[
    {"name":"role","type":"bytes32","indexed":true},
    {"name":"account","type":"address","indexed":true},
    {"name":"sender","type":"address","indexed":true}]},
  {"type":"event","name":"RoleRevoked","inputs":[
    {"name":"role","type":"bytes32","indexed":true},
    {"name":"account","type":"address","indexed":true},
    {"name":"sender","type":"address","indexed":true}]},
  {"type":"event","name":"OwnershipTransferred","inputs":[
    {"name":"previousOwner","type":"address","indexed":true},
    {"name":"newOwner","type":"address","indexed":true}]},
  {"type":"event","name":"OwnerChanged","inputs":[
    {"name":"previousOwner","type":"address","indexed":true},
    {"name":"newOwner","type":"address","indexed":true}]},
  {"type":"event","name":"Paused","inputs":[
    {"name":"account","type":"address","indexed":false}]},
  {"type":"event","name":"Unpaused","inputs":[
    {"name":"account","type":"address","indexed":false}]},
  {"type":"event","name":"Upgraded","inputs":[
    {"name":"implementation","type":"address","indexed":true}]},
  {"type":"event","name":"TokenStopped","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"stopped","type":"bool","indexed":false}]},
  {"type":"event","name":"TokenRemoved","inputs":[
    {"name":"token","type":"address","indexed":true}]},
  {"type":"event","name":"ChainlinkOracleChanged","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"oracle","type":"address","indexed":false}]},
  {"type":"event","name":"WhitelistChanged","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"allowed","type":"bool","indexed":false}]},
  {"type":"event","name":"OracleFallbackUsed","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"price","type":"uint256","indexed":false}]},
  {"type":"event","name":"EntryPointChanged","inputs":[
    {"name":"entryPoint","type":"address","indexed":true}]},
  {"type":"event","name":"GnosisSafeChanged","inputs":[
    {"name":"safe","type":"address","indexed":true}]},
  {"type":"function","name":"renewPermission","stateMutability":"nonpayable","inputs":[
    {"name":"user","type":"address"},
    {"name":"withdrawalAddress","type":"address"},
    {"name":"allowedTokens","type":"address[]"},
    {"name":"expiresAt","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getPermission","stateMutability":"view","inputs":[
    {"name":"user","type":"address"}],"outputs":[
    {"name":"withdrawalAddress","type":"address"},
    {"name":"allowedTokens","type":"address[]"},
    {"name":"expiresAt","type":"uint256"},
    {"name":"active","type":"bool"}]}
]`

// ContractABI returns the parsed ABI of the watched permission contract.
func ContractABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(permissionManagerABI))
}
