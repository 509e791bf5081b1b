package sandbox

import (
	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/internal/trace"
)

// Class names of the subject.
const (
	Account    = "Account"
	Bank       = "Bank"
	Classifier = "Classifier"
)

// Branch IDs of the subject's predicates.
const (
	brNegativeInitial = iota + 1
	brDepositFrozen
	brDepositNonPositive
	brWithdrawFrozen
	brWithdrawOverdraft
	brTransferClosed
	brTransferSelf
	brTransferWithdrawn
	brSignNegative
	brSignZero
	brSpinLoop
	brTotalNull
)

// Lines reported for line goals and used as call sites.
const (
	lineDepositApply   = 22
	lineTransferCallW  = 42
	lineTransferCallD  = 44
	lineTransferCount  = 45
	lineSignPositive   = 57
	lineWithdrawApply  = 31
	transferLimitValue = 1000
)

type account struct {
	balance int
	frozen  bool
}

type bank struct {
	open      bool
	transfers int
}

// method implements one operation against the recorder.
type method func(r *recorder, recv any, args []any) (any, error)

// Operations of the subject, shared by every statement that calls them.
var (
	opNewAccount     = &testcase.Operation{Kind: testcase.OpConstructor, Owner: Account, Name: "<init>"}
	opNewAccountInit = &testcase.Operation{Kind: testcase.OpConstructor, Owner: Account, Name: "<init>", Params: []string{"int"}}
	opDeposit        = &testcase.Operation{Kind: testcase.OpMethod, Owner: Account, Name: "deposit", Params: []string{"int"}, Returns: "boolean"}
	opWithdraw       = &testcase.Operation{Kind: testcase.OpMethod, Owner: Account, Name: "withdraw", Params: []string{"int"}, Returns: "boolean"}
	opGetBalance     = &testcase.Operation{Kind: testcase.OpMethod, Owner: Account, Name: "getBalance", Returns: "int"}
	opFreeze         = &testcase.Operation{Kind: testcase.OpMethod, Owner: Account, Name: "freeze"}
	opBalanceField   = &testcase.Operation{Kind: testcase.OpField, Owner: Account, Name: "balance", Returns: "int"}

	opNewBank    = &testcase.Operation{Kind: testcase.OpConstructor, Owner: Bank, Name: "<init>"}
	opOpen       = &testcase.Operation{Kind: testcase.OpMethod, Owner: Bank, Name: "open"}
	opClose      = &testcase.Operation{Kind: testcase.OpMethod, Owner: Bank, Name: "close"}
	opTransfer   = &testcase.Operation{Kind: testcase.OpMethod, Owner: Bank, Name: "transfer", Params: []string{Account, Account, "int"}, Returns: "boolean"}
	opTotal      = &testcase.Operation{Kind: testcase.OpMethod, Owner: Bank, Name: "total", Params: []string{Account + "[]"}, Returns: "int", Static: true}
	opLimitConst = &testcase.Operation{Kind: testcase.OpField, Owner: Bank, Name: "LIMIT", Returns: "int", Static: true, Final: true}

	opSign = &testcase.Operation{Kind: testcase.OpMethod, Owner: Classifier, Name: "sign", Params: []string{"int"}, Returns: "String", Static: true}
	opSpin = &testcase.Operation{Kind: testcase.OpMethod, Owner: Classifier, Name: "spin", Params: []string{"int"}, Returns: "int", Static: true}
)

var operations = []*testcase.Operation{
	opNewAccount, opNewAccountInit, opDeposit, opWithdraw, opGetBalance, opFreeze, opBalanceField,
	opNewBank, opOpen, opClose, opTransfer, opTotal, opLimitConst,
	opSign, opSpin,
}

var methods = map[*testcase.Operation]method{
	opNewAccount: func(r *recorder, _ any, _ []any) (any, error) {
		r.enter(Account, "<init>")
		return &account{}, nil
	},
	opNewAccountInit: func(r *recorder, _ any, args []any) (any, error) {
		r.enter(Account, "<init>")
		initial := intArg(args[0])
		if r.less(brNegativeInitial, initial, 0) {
			return nil, throw("IllegalArgumentException", "negative initial balance %d", initial)
		}
		return &account{balance: initial}, nil
	},
	opDeposit: func(r *recorder, recv any, args []any) (any, error) {
		return deposit(r, recv.(*account), intArg(args[0]))
	},
	opWithdraw: func(r *recorder, recv any, args []any) (any, error) {
		return withdraw(r, recv.(*account), intArg(args[0]))
	},
	opGetBalance: func(r *recorder, recv any, _ []any) (any, error) {
		r.enter(Account, "getBalance")
		return recv.(*account).balance, nil
	},
	opFreeze: func(r *recorder, recv any, _ []any) (any, error) {
		r.enter(Account, "freeze")
		recv.(*account).frozen = true
		return nil, nil
	},
	opBalanceField: func(_ *recorder, recv any, _ []any) (any, error) {
		return recv.(*account).balance, nil
	},
	opNewBank: func(r *recorder, _ any, _ []any) (any, error) {
		r.enter(Bank, "<init>")
		return &bank{}, nil
	},
	opOpen: func(r *recorder, recv any, _ []any) (any, error) {
		r.enter(Bank, "open")
		recv.(*bank).open = true
		return nil, nil
	},
	opClose: func(r *recorder, recv any, _ []any) (any, error) {
		r.enter(Bank, "close")
		recv.(*bank).open = false
		return nil, nil
	},
	opTransfer: func(r *recorder, recv any, args []any) (any, error) {
		from, _ := args[0].(*account)
		to, _ := args[1].(*account)
		return transfer(r, recv.(*bank), from, to, intArg(args[2]))
	},
	opTotal: func(r *recorder, _ any, args []any) (any, error) {
		r.enter(Bank, "total")
		accounts, _ := args[0].([]any)
		if accounts == nil {
			return nil, throw("NullPointerException", "accounts")
		}
		sum := 0
		for _, a := range accounts {
			if err := r.tick(); err != nil {
				return nil, err
			}
			acc, _ := a.(*account)
			if r.truth(brTotalNull, acc == nil) {
				continue
			}
			sum += acc.balance
		}
		return sum, nil
	},
	opLimitConst: func(_ *recorder, _ any, _ []any) (any, error) {
		return transferLimitValue, nil
	},
	opSign: func(r *recorder, _ any, args []any) (any, error) {
		r.enter(Classifier, "sign")
		x := intArg(args[0])
		if r.less(brSignNegative, x, 0) {
			return "negative", nil
		}
		if r.equal(brSignZero, x, 0) {
			return "zero", nil
		}
		r.line(Classifier, lineSignPositive)
		return "positive", nil
	},
	opSpin: func(r *recorder, _ any, args []any) (any, error) {
		r.enter(Classifier, "spin")
		n := intArg(args[0])
		i := 0
		for r.less(brSpinLoop, i, n) {
			if err := r.tick(); err != nil {
				return nil, err
			}
			i++
		}
		return i, nil
	},
}

func deposit(r *recorder, a *account, amount int) (any, error) {
	r.enter(Account, "deposit")
	if r.truth(brDepositFrozen, a.frozen) {
		return nil, throw("IllegalStateException", "account is frozen")
	}
	if r.lessEq(brDepositNonPositive, amount, 0) {
		return false, nil
	}
	r.line(Account, lineDepositApply)
	a.balance += amount
	return true, nil
}

func withdraw(r *recorder, a *account, amount int) (any, error) {
	r.enter(Account, "withdraw")
	if r.truth(brWithdrawFrozen, a.frozen) {
		return nil, throw("IllegalStateException", "account is frozen")
	}
	if r.less(brWithdrawOverdraft, a.balance, amount) {
		return false, nil
	}
	r.line(Account, lineWithdrawApply)
	a.balance -= amount
	return true, nil
}

func transfer(r *recorder, b *bank, from, to *account, amount int) (any, error) {
	r.enter(Bank, "transfer")
	if r.truth(brTransferClosed, !b.open) {
		return false, nil
	}
	if r.truth(brTransferSelf, from == to) {
		return false, nil
	}
	if from == nil || to == nil {
		return nil, throw("NullPointerException", "account")
	}
	ok, err := r.call(transferSite(lineTransferCallW), func() (any, error) {
		return withdraw(r, from, amount)
	})
	if err != nil {
		return nil, err
	}
	withdrawn, _ := ok.(bool)
	if !r.truth(brTransferWithdrawn, withdrawn) {
		return false, nil
	}
	if _, err := r.call(transferSite(lineTransferCallD), func() (any, error) {
		return deposit(r, to, amount)
	}); err != nil {
		return nil, err
	}
	r.line(Bank, lineTransferCount)
	b.transfers++
	return true, nil
}

func transferSite(line int) trace.CallSite {
	return trace.CallSite{Class: Bank, Method: "transfer", Line: line}
}

// intArg reads an integral argument. Characters and bytes are held as int.
func intArg(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
