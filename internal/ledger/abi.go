package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const companyComponents = `[{"name":"name","type":"address"},{"name":"creditScore","type":"uint8"}]`

const primaABIJSON = `[
 {"type":"function","name":"computeAmounts","stateMutability":"view",
  "inputs":[{"name":"amount","type":"uint256"},{"name":"debtorCreditScore","type":"uint8"}],
  "outputs":[{"name":"minimumAmount","type":"uint256"},{"name":"maximumAmount","type":"uint256"}]},
 {"type":"function","name":"getCreditorInvoices","stateMutability":"view","inputs":[],
  "outputs":[{"name":"invoiceIds","type":"uint256[]"}]},
 {"type":"function","name":"getDebtorInvoices","stateMutability":"view","inputs":[],
  "outputs":[{"name":"invoiceIds","type":"uint256[]"}]},
 {"type":"function","name":"getInvestorInvoices","stateMutability":"view","inputs":[],
  "outputs":[{"name":"invoiceIds","type":"uint256[]"}]},
 {"type":"function","name":"getInvoice","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],
  "outputs":[{"name":"","type":"tuple","components":[
    {"name":"id","type":"string"},{"name":"activity","type":"string"},{"name":"country","type":"string"},
    {"name":"dueDate","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"amountToPay","type":"uint256"},
    {"name":"collateral","type":"uint256"},
    {"name":"debtor","type":"tuple","components":` + companyComponents + `},
    {"name":"creditor","type":"tuple","components":` + companyComponents + `},
    {"name":"investor","type":"tuple","components":` + companyComponents + `},
    {"name":"invoiceStatus","type":"uint8"}]}]},
 {"type":"function","name":"generateInvoice","stateMutability":"nonpayable",
  "inputs":[{"name":"invoiceParams","type":"tuple","components":[
    {"name":"id","type":"string"},{"name":"activity","type":"string"},{"name":"country","type":"string"},
    {"name":"dueDate","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"amountToPay","type":"uint256"},
    {"name":"debtor","type":"tuple","components":` + companyComponents + `},
    {"name":"creditor","type":"tuple","components":` + companyComponents + `}]}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"acceptInvoice","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenId","type":"uint256"},{"name":"collateralAmount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"investInvoice","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenId","type":"uint256"},{"name":"investor","type":"tuple","components":` + companyComponents + `}],
  "outputs":[]},
 {"type":"function","name":"addCollateral","stateMutability":"nonpayable",
  "inputs":[{"name":"collateralAmount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"payInvoice","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
 {"type":"error","name":"Prima_InvalidCollateralAmount","inputs":[
  {"name":"collateralAmount","type":"uint256"},{"name":"activeCollateral","type":"uint256"},{"name":"totalCollateral","type":"uint256"}]},
 {"type":"error","name":"Prima_InvalidDueDate","inputs":[{"name":"dueDate","type":"uint256"}]},
 {"type":"error","name":"Prima_InvalidInvoiceAmount","inputs":[{"name":"amount","type":"uint256"},{"name":"amountToPay","type":"uint256"}]},
 {"type":"error","name":"Prima_InvalidInvoiceAmountToPay","inputs":[
  {"name":"amount","type":"uint256"},{"name":"minimumAmount","type":"uint256"},{"name":"maximumAmount","type":"uint256"}]},
 {"type":"error","name":"Prima_InvalidInvoiceId","inputs":[]},
 {"type":"error","name":"Prima_InvalidSender","inputs":[{"name":"sender","type":"address"}]},
 {"type":"error","name":"Prima_InvalidZeroAddress","inputs":[]}
]`

const tokenABIJSON = `[
 {"type":"function","name":"allowance","stateMutability":"view",
  "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"error","name":"ERC20InsufficientAllowance","inputs":[
  {"name":"spender","type":"address"},{"name":"allowance","type":"uint256"},{"name":"needed","type":"uint256"}]},
 {"type":"error","name":"ERC20InsufficientBalance","inputs":[
  {"name":"sender","type":"address"},{"name":"balance","type":"uint256"},{"name":"needed","type":"uint256"}]},
 {"type":"error","name":"ERC20InvalidSpender","inputs":[{"name":"spender","type":"address"}]}
]`

const invoiceNFTABIJSON = `[
 {"type":"event","name":"InvoiceNFT_StatusChanged","anonymous":false,
  "inputs":[{"name":"tokenId","type":"uint256","indexed":false},{"name":"newStatus","type":"uint8","indexed":false}]},
 {"type":"event","name":"Transfer","anonymous":false,
  "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},
   {"name":"tokenId","type":"uint256","indexed":true}]}
]`

const (
	statusChangedEvent = "InvoiceNFT_StatusChanged"
	transferEvent      = "Transfer"
)

type contractABIs struct {
	prima   abi.ABI
	token   abi.ABI
	invoice abi.ABI
}

func parseABIs() (contractABIs, error) {
	var out contractABIs
	for _, item := range []struct {
		name string
		json string
		dst  *abi.ABI
	}{
		{"prima", primaABIJSON, &out.prima},
		{"token", tokenABIJSON, &out.token},
		{"invoice", invoiceNFTABIJSON, &out.invoice},
	} {
		parsed, err := abi.JSON(strings.NewReader(item.json))
		if err != nil {
			return contractABIs{}, fmt.Errorf("parse %s abi: %w", item.name, err)
		}
		*item.dst = parsed
	}
	return out, nil
}
