// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btclite/btclite/wire"
)

// testSpendingTx returns a transaction with a single input spending the
// passed outpoint hash, suitable for signature hashing in tests.
func testSpendingTx() *wire.MsgTx {
	tx := wire.NewMsgTx()
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x2a},
			Index: 0,
		},
		Sequence: 0xffffffff,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    100000000,
		PkScript: []byte{OP_TRUE},
	})
	return tx
}

// run executes a single script as both halves of a spend: an empty
// signature script followed by the passed program.
func run(t *testing.T, script []byte) error {
	t.Helper()
	return VerifySpend(nil, testSpendingTx(), 0, script, false)
}

// TestSimplePrograms exercises basic opcode behavior through VerifySpend.
func TestSimplePrograms(t *testing.T) {
	tests := []struct {
		name    string
		script  []byte
		errCode ErrorCode
		ok      bool
	}{
		{"true", []byte{OP_1}, 0, true},
		{"false", []byte{OP_0}, ErrEvalFalse, false},
		{"add", []byte{OP_1, OP_2, OP_ADD, OP_3, OP_NUMEQUAL}, 0, true},
		{"sub", []byte{OP_5, OP_3, OP_SUB, OP_2, OP_NUMEQUAL}, 0, true},
		{"dup-equal", []byte{OP_4, OP_DUP, OP_EQUAL}, 0, true},
		{"if-else", []byte{OP_1, OP_IF, OP_2, OP_ELSE, OP_3, OP_ENDIF,
			OP_2, OP_NUMEQUAL}, 0, true},
		{"notif", []byte{OP_0, OP_NOTIF, OP_1, OP_ELSE, OP_0, OP_ENDIF},
			0, true},
		{"nested-if", []byte{OP_0, OP_IF, OP_1, OP_IF, OP_RETURN,
			OP_ENDIF, OP_ENDIF, OP_1}, 0, true},
		{"verify-fail", []byte{OP_0, OP_VERIFY}, ErrVerify, false},
		{"return", []byte{OP_RETURN}, ErrEarlyReturn, false},
		{"empty-stack", []byte{OP_1, OP_DROP}, ErrEmptyStack, false},
		{"underflow", []byte{OP_ADD}, ErrInvalidStackOperation, false},
		{"else-no-if", []byte{OP_1, OP_ELSE, OP_ENDIF},
			ErrUnbalancedConditional, false},
		{"endif-no-if", []byte{OP_1, OP_ENDIF},
			ErrUnbalancedConditional, false},
		{"negative-zero-false", []byte{OP_DATA_1, 0x80, OP_NOTIF,
			OP_1, OP_ELSE, OP_0, OP_ENDIF}, 0, true},
		{"pick", []byte{OP_3, OP_2, OP_1, OP_2, OP_PICK, OP_3,
			OP_NUMEQUAL, OP_NIP, OP_NIP}, 0, true},
		{"roll", []byte{OP_3, OP_2, OP_1, OP_2, OP_ROLL, OP_3,
			OP_NUMEQUAL, OP_NIP, OP_NIP}, 0, true},
		{"within", []byte{OP_2, OP_1, OP_3, OP_WITHIN}, 0, true},
		{"min-max", []byte{OP_2, OP_5, OP_MIN, OP_2, OP_NUMEQUAL},
			0, true},
		{"altstack", []byte{OP_5, OP_TOALTSTACK, OP_1,
			OP_FROMALTSTACK, OP_5, OP_NUMEQUAL, OP_NIP}, 0, true},
		{"size", []byte{OP_DATA_3, 0x01, 0x02, 0x03, OP_SIZE, OP_3,
			OP_NUMEQUAL, OP_NIP}, 0, true},
		{"reserved", []byte{OP_RESERVED}, ErrReservedOpcode, false},
		{"reserved-in-dead-branch", []byte{OP_0, OP_IF, OP_RESERVED,
			OP_ENDIF, OP_1}, 0, true},
	}

	for _, test := range tests {
		err := run(t, test.script)
		if test.ok {
			if err != nil {
				t.Errorf("%s: unexpected error: %v", test.name,
					err)
			}
			continue
		}
		if !IsErrorCode(err, test.errCode) {
			t.Errorf("%s: expected %v, got %v", test.name,
				test.errCode, err)
		}
	}
}

// TestDisabledOpcodeInDeadBranch verifies disabled opcodes abort even inside
// a branch that does not execute.
func TestDisabledOpcodeInDeadBranch(t *testing.T) {
	script := []byte{OP_0, OP_IF, OP_CAT, OP_ENDIF, OP_1}
	err := run(t, script)
	if !IsErrorCode(err, ErrDisabledOpcode) {
		t.Fatalf("expected ErrDisabledOpcode, got %v", err)
	}
}

// TestVerIfAbortsUnconditionally verifies OP_VERIF and OP_VERNOTIF fail even
// inside a branch that does not execute.
func TestVerIfAbortsUnconditionally(t *testing.T) {
	for _, op := range []byte{OP_VERIF, OP_VERNOTIF} {
		script := []byte{OP_0, OP_IF, op, OP_ENDIF, OP_1}
		err := run(t, script)
		if !IsErrorCode(err, ErrReservedOpcode) {
			t.Fatalf("opcode %s: expected ErrReservedOpcode, got %v",
				OpcodeName(op), err)
		}
	}
}

// TestUnterminatedIf verifies the unterminated conditional error and its
// message.
func TestUnterminatedIf(t *testing.T) {
	script := []byte{OP_1, OP_IF, OP_1}
	err := run(t, script)
	if !IsErrorCode(err, ErrUnbalancedConditional) {
		t.Fatalf("expected ErrUnbalancedConditional, got %v", err)
	}
	if err.Error() != "OP_IF/OP_NOTIF without OP_ENDIF" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

// TestNumericOverflowGuard verifies that a 5-byte integer operand aborts.
func TestNumericOverflowGuard(t *testing.T) {
	script := []byte{0x05, 0x01, 0x00, 0x00, 0x00, 0x00, OP_1ADD}
	err := run(t, script)
	if !IsErrorCode(err, ErrNumberTooBig) {
		t.Fatalf("expected ErrNumberTooBig, got %v", err)
	}
	if err.Error() != "Script attempted to use an integer larger than 4 bytes" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

// TestElementSizeLimit verifies pushes beyond 520 bytes abort.
func TestElementSizeLimit(t *testing.T) {
	// A 520-byte push is fine.
	ok := canonicalPush(bytes.Repeat([]byte{0x01}, MaxScriptElementSize))
	if err := run(t, append(ok, OP_SIZE, OP_NIP, OP_NOT, OP_NOT)); err != nil {
		t.Fatalf("520-byte element rejected: %v", err)
	}

	// A 521-byte push is not.
	big := canonicalPush(bytes.Repeat([]byte{0x01}, MaxScriptElementSize+1))
	err := run(t, append(big, OP_DROP, OP_1))
	if !IsErrorCode(err, ErrElementTooBig) {
		t.Fatalf("expected ErrElementTooBig, got %v", err)
	}
}

// TestOperationLimit verifies the 201 operation budget.
func TestOperationLimit(t *testing.T) {
	// 201 no-ops after the push is acceptable.
	script := []byte{OP_1}
	for i := 0; i < MaxOpsPerScript; i++ {
		script = append(script, OP_NOP)
	}
	if err := run(t, script); err != nil {
		t.Fatalf("201 operations rejected: %v", err)
	}

	// One more is not.
	script = append(script, OP_NOP)
	err := run(t, script)
	if !IsErrorCode(err, ErrTooManyOperations) {
		t.Fatalf("expected ErrTooManyOperations, got %v", err)
	}
}

// TestStackSizeLimit verifies the combined 1000 element stack bound.
func TestStackSizeLimit(t *testing.T) {
	// Pushes do not count against the operation budget, so a long run of
	// them trips the stack bound and nothing else.
	script := bytes.Repeat([]byte{OP_1}, MaxStackSize+1)
	err := run(t, script)
	if !IsErrorCode(err, ErrStackOverflow) {
		t.Fatalf("expected ErrStackOverflow, got %v", err)
	}
}

// signInput computes a signature over the passed script for input 0 of the
// transaction and returns the signature push data (DER plus hash type).
func signInput(t *testing.T, priv *btcec.PrivateKey, tx *wire.MsgTx, script []byte) []byte {
	t.Helper()
	hash, err := CalcSignatureHash(script, SigHashAll, tx, 0)
	if err != nil {
		t.Fatalf("CalcSignatureHash: %v", err)
	}
	sig := ecdsa.Sign(priv, hash)
	return append(sig.Serialize(), byte(SigHashAll))
}

// TestP2PKHSpend builds and verifies a standard pay-to-pubkey-hash spend,
// then verifies that corrupting the signature fails with the non-true stack
// error.
func TestP2PKHSpend(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pubKey := priv.PubKey().SerializeCompressed()
	pubKeyHash := btcutil.Hash160(pubKey)

	var pkScript []byte
	pkScript = append(pkScript, OP_DUP, OP_HASH160, OP_DATA_20)
	pkScript = append(pkScript, pubKeyHash...)
	pkScript = append(pkScript, OP_EQUALVERIFY, OP_CHECKSIG)

	tx := testSpendingTx()
	sigBytes := signInput(t, priv, tx, pkScript)

	var sigScript []byte
	sigScript = append(sigScript, canonicalPush(sigBytes)...)
	sigScript = append(sigScript, canonicalPush(pubKey)...)

	if err := VerifySpend(sigScript, tx, 0, pkScript, false); err != nil {
		t.Fatalf("valid P2PKH spend rejected: %v", err)
	}

	// Flip one bit in the DER portion of the signature; everything else
	// stays intact, so the failure mode is a false CHECKSIG result, not
	// a script abort.
	corrupted := make([]byte, len(sigScript))
	copy(corrupted, sigScript)
	corrupted[10] ^= 0x01

	err = VerifySpend(corrupted, tx, 0, pkScript, false)
	if !IsErrorCode(err, ErrEvalFalse) {
		t.Fatalf("expected ErrEvalFalse, got %v", err)
	}
	if err.Error() != "Script resulted in a non-true stack" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

// TestCheckSigVerify verifies the aborting variant of CHECKSIG.
func TestCheckSigVerify(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pubKey := priv.PubKey().SerializeCompressed()

	var pkScript []byte
	pkScript = append(pkScript, canonicalPush(pubKey)...)
	pkScript = append(pkScript, OP_CHECKSIGVERIFY, OP_1)

	tx := testSpendingTx()
	sigBytes := signInput(t, priv, tx, pkScript)
	sigScript := canonicalPush(sigBytes)

	if err := VerifySpend(sigScript, tx, 0, pkScript, false); err != nil {
		t.Fatalf("valid CHECKSIGVERIFY spend rejected: %v", err)
	}

	// A garbage signature aborts rather than evaluating false.
	bad := canonicalPush([]byte{0x30, 0x01, 0x01, byte(SigHashAll)})
	err = VerifySpend(bad, tx, 0, pkScript, false)
	if !IsErrorCode(err, ErrCheckSigVerify) {
		t.Fatalf("expected ErrCheckSigVerify, got %v", err)
	}
}

// TestCheckMultiSig verifies a 2-of-3 multisig spend, including the bug
// emulation that consumes one extra stack element.
func TestCheckMultiSig(t *testing.T) {
	var privs []*btcec.PrivateKey
	var pubKeys [][]byte
	for i := 0; i < 3; i++ {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			t.Fatalf("NewPrivateKey: %v", err)
		}
		privs = append(privs, priv)
		pubKeys = append(pubKeys, priv.PubKey().SerializeCompressed())
	}

	var pkScript []byte
	pkScript = append(pkScript, OP_2)
	for _, pubKey := range pubKeys {
		pkScript = append(pkScript, canonicalPush(pubKey)...)
	}
	pkScript = append(pkScript, OP_3, OP_CHECKMULTISIG)

	tx := testSpendingTx()

	// Signatures must appear in key order; the dummy OP_0 absorbs the
	// extra pop.
	sig0 := signInput(t, privs[0], tx, pkScript)
	sig2 := signInput(t, privs[2], tx, pkScript)

	var sigScript []byte
	sigScript = append(sigScript, OP_0)
	sigScript = append(sigScript, canonicalPush(sig0)...)
	sigScript = append(sigScript, canonicalPush(sig2)...)

	if err := VerifySpend(sigScript, tx, 0, pkScript, false); err != nil {
		t.Fatalf("valid multisig spend rejected: %v", err)
	}

	// Without the dummy element the extra pop underflows the stack.
	var noDummy []byte
	noDummy = append(noDummy, canonicalPush(sig0)...)
	noDummy = append(noDummy, canonicalPush(sig2)...)
	err := VerifySpend(noDummy, tx, 0, pkScript, false)
	if !IsErrorCode(err, ErrInvalidStackOperation) {
		t.Fatalf("expected ErrInvalidStackOperation, got %v", err)
	}

	// Out-of-order signatures cannot all be consumed.
	var reversed []byte
	reversed = append(reversed, OP_0)
	reversed = append(reversed, canonicalPush(sig2)...)
	reversed = append(reversed, canonicalPush(sig0)...)
	err = VerifySpend(reversed, tx, 0, pkScript, false)
	if !IsErrorCode(err, ErrEvalFalse) {
		t.Fatalf("expected ErrEvalFalse, got %v", err)
	}
}

// TestP2SHSpend verifies spending a pay-to-script-hash output whose inner
// script is a simple key check.
func TestP2SHSpend(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pubKey := priv.PubKey().SerializeCompressed()

	// Inner script: <pubkey> OP_CHECKSIG.
	var redeemScript []byte
	redeemScript = append(redeemScript, canonicalPush(pubKey)...)
	redeemScript = append(redeemScript, OP_CHECKSIG)

	scriptHash := btcutil.Hash160(redeemScript)
	var pkScript []byte
	pkScript = append(pkScript, OP_HASH160, OP_DATA_20)
	pkScript = append(pkScript, scriptHash...)
	pkScript = append(pkScript, OP_EQUAL)

	tx := testSpendingTx()

	// The inner signature is computed over the redeeming script, which
	// is the program the CHECKSIG executes in.
	sigBytes := signInput(t, priv, tx, redeemScript)

	var sigScript []byte
	sigScript = append(sigScript, canonicalPush(sigBytes)...)
	sigScript = append(sigScript, canonicalPush(redeemScript)...)

	if err := VerifySpend(sigScript, tx, 0, pkScript, true); err != nil {
		t.Fatalf("valid P2SH spend rejected: %v", err)
	}

	// The same spend without P2SH enforcement also succeeds, since the
	// outer script alone leaves a true value.
	if err := VerifySpend(sigScript, tx, 0, pkScript, false); err != nil {
		t.Fatalf("P2SH spend without enforcement rejected: %v", err)
	}

	// With enforcement, a signature script containing a non-push opcode
	// is rejected.
	withOp := append([]byte{OP_NOP}, sigScript...)
	err = VerifySpend(withOp, tx, 0, pkScript, true)
	if !IsErrorCode(err, ErrP2SHNonPushOnly) {
		t.Fatalf("expected ErrP2SHNonPushOnly, got %v", err)
	}
}

// TestScriptSizeLimit verifies programs over 10,000 bytes are rejected
// before execution.
func TestScriptSizeLimit(t *testing.T) {
	big := bytes.Repeat([]byte{OP_NOP}, MaxScriptSize+1)
	err := run(t, big)
	if !IsErrorCode(err, ErrScriptTooBig) {
		t.Fatalf("expected ErrScriptTooBig, got %v", err)
	}
}

// TestCodeSeparator verifies the connected script starts after the last
// executed OP_CODESEPARATOR.
func TestCodeSeparator(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pubKey := priv.PubKey().SerializeCompressed()

	// pkScript: OP_CODESEPARATOR <pubkey> OP_CHECKSIG.  The connected
	// script excludes everything up to and including the separator.
	var pkScript []byte
	pkScript = append(pkScript, OP_CODESEPARATOR)
	pkScript = append(pkScript, canonicalPush(pubKey)...)
	pkScript = append(pkScript, OP_CHECKSIG)

	tx := testSpendingTx()

	var connected []byte
	connected = append(connected, canonicalPush(pubKey)...)
	connected = append(connected, OP_CHECKSIG)

	hash, err := CalcSignatureHash(connected, SigHashAll, tx, 0)
	if err != nil {
		t.Fatalf("CalcSignatureHash: %v", err)
	}
	sig := ecdsa.Sign(priv, hash)
	sigBytes := append(sig.Serialize(), byte(SigHashAll))

	sigScript := canonicalPush(sigBytes)
	if err := VerifySpend(sigScript, tx, 0, pkScript, false); err != nil {
		t.Fatalf("code separator spend rejected: %v", err)
	}
}
