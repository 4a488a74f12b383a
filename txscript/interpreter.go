// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160"

	"github.com/btclite/btclite/wire"
)

// Conditional execution constants.
const (
	// OpCondFalse is the state of a conditional branch whose guard
	// evaluated to false.
	OpCondFalse = 0

	// OpCondTrue is the state of a conditional branch whose guard
	// evaluated to true.
	OpCondTrue = 1

	// OpCondSkip is the state of a conditional branch nested inside a
	// branch that is itself not executing.  Its guard was never
	// evaluated, and OP_ELSE must not activate it.
	OpCondSkip = 2
)

// Engine is the virtual machine that executes scripts.  It carries the data
// and alternate stacks, the conditional execution stack, the running count
// of non-push operations, and the offset of the byte following the most
// recent OP_CODESEPARATOR, which signature checking needs to construct the
// connected script.
type Engine struct {
	scriptBytes []byte
	script      []parsedOpcode
	tx          *wire.MsgTx
	txIdx       int
	dstack      *stack // data stack
	astack      *stack // alt stack
	condStack   []int
	numOps      int
	lastCodeSep int
}

// isBranchExecuting returns whether or not the current conditional branch is
// actively executing.  For example, when the data stack has an OP_FALSE on
// it and an OP_IF is encountered, the branch is inactive until an OP_ELSE or
// OP_ENDIF is encountered.  It properly handles nested conditionals.
func (vm *Engine) isBranchExecuting() bool {
	for _, cond := range vm.condStack {
		if cond != OpCondTrue {
			return false
		}
	}
	return true
}

// executeScript runs the passed raw script against the shared data stack.
// The alternate stack, conditional stack, operation count, and code
// separator position are all per-script state and start fresh.
func executeScript(script []byte, stk *stack, tx *wire.MsgTx, txIdx int) error {
	if len(script) > MaxScriptSize {
		str := fmt.Sprintf("script size %d is larger than max allowed "+
			"size %d", len(script), MaxScriptSize)
		return scriptError(ErrScriptTooBig, str)
	}

	pops, err := parseScript(script)
	if err != nil {
		return err
	}

	vm := Engine{
		scriptBytes: script,
		script:      pops,
		tx:          tx,
		txIdx:       txIdx,
		dstack:      stk,
		astack:      &stack{},
	}

	for i := range pops {
		if err := vm.executeOpcode(&pops[i]); err != nil {
			return err
		}

		// The number of elements in the combination of the data and
		// alt stacks must not exceed the maximum number of stack
		// elements allowed.
		combinedSize := vm.dstack.Depth() + vm.astack.Depth()
		if combinedSize > MaxStackSize {
			str := fmt.Sprintf("combined stack size %d > max "+
				"allowed %d", combinedSize, MaxStackSize)
			return scriptError(ErrStackOverflow, str)
		}
	}

	if len(vm.condStack) != 0 {
		return scriptError(ErrUnbalancedConditional,
			"OP_IF/OP_NOTIF without OP_ENDIF")
	}

	return nil
}

// executeOpcode performs execution on the passed opcode.  It takes into
// account whether or not it is hidden by conditionals, but some rules still
// must be tested in this case.
func (vm *Engine) executeOpcode(pop *parsedOpcode) error {
	op := pop.opcode

	// Disabled opcodes are fail on program counter, even when the branch
	// they sit in is not executing.
	if isDisabled(op) {
		str := fmt.Sprintf("attempt to execute disabled opcode %s",
			OpcodeName(op))
		return scriptError(ErrDisabledOpcode, str)
	}

	// Always-illegal opcodes are fail on program counter.
	if alwaysIllegal(op) {
		str := fmt.Sprintf("attempt to execute reserved opcode %s",
			OpcodeName(op))
		return scriptError(ErrReservedOpcode, str)
	}

	// Note that this includes OP_RESERVED which counts as a push
	// operation.
	if op > OP_16 {
		vm.numOps++
		if vm.numOps > MaxOpsPerScript {
			str := fmt.Sprintf("exceeded max operation limit of %d",
				MaxOpsPerScript)
			return scriptError(ErrTooManyOperations, str)
		}
	} else if len(pop.data) > MaxScriptElementSize {
		str := fmt.Sprintf("element size %d exceeds max allowed size "+
			"%d", len(pop.data), MaxScriptElementSize)
		return scriptError(ErrElementTooBig, str)
	}

	// Nothing left to do when this is not a conditional opcode and it is
	// not in an executing branch.
	shouldExecute := vm.isBranchExecuting()
	if !shouldExecute && !isConditional(op) {
		return nil
	}

	switch {
	// Data pushes.
	case op == OP_0:
		vm.dstack.PushByteArray(nil)
		return nil

	case op >= OP_DATA_1 && op <= OP_DATA_75,
		op == OP_PUSHDATA1, op == OP_PUSHDATA2, op == OP_PUSHDATA4:
		vm.dstack.PushByteArray(pop.data)
		return nil

	case op == OP_1NEGATE:
		vm.dstack.PushInt(big.NewInt(-1))
		return nil

	case op >= OP_1 && op <= OP_16:
		vm.dstack.PushInt(big.NewInt(int64(op - OP_1 + 1)))
		return nil
	}

	switch op {
	case OP_NOP, OP_NOP1, OP_NOP2, OP_NOP3, OP_NOP4, OP_NOP5,
		OP_NOP6, OP_NOP7, OP_NOP8, OP_NOP9, OP_NOP10:
		return nil

	// Flow control.  The conditional opcodes must always be processed,
	// whether or not the current branch is executing, so that nested
	// conditionals track state correctly.
	case OP_IF:
		if !shouldExecute {
			vm.condStack = append(vm.condStack, OpCondSkip)
			return nil
		}
		ok, err := vm.dstack.PopBool()
		if err != nil {
			return err
		}
		if ok {
			vm.condStack = append(vm.condStack, OpCondTrue)
		} else {
			vm.condStack = append(vm.condStack, OpCondFalse)
		}
		return nil

	case OP_NOTIF:
		if !shouldExecute {
			vm.condStack = append(vm.condStack, OpCondSkip)
			return nil
		}
		ok, err := vm.dstack.PopBool()
		if err != nil {
			return err
		}
		if !ok {
			vm.condStack = append(vm.condStack, OpCondTrue)
		} else {
			vm.condStack = append(vm.condStack, OpCondFalse)
		}
		return nil

	case OP_ELSE:
		if len(vm.condStack) == 0 {
			return scriptError(ErrUnbalancedConditional,
				"encountered OP_ELSE with no matching OP_IF")
		}
		switch vm.condStack[len(vm.condStack)-1] {
		case OpCondTrue:
			vm.condStack[len(vm.condStack)-1] = OpCondFalse
		case OpCondFalse:
			vm.condStack[len(vm.condStack)-1] = OpCondTrue
		case OpCondSkip:
			// The branch was never live; stay skipped.
		}
		return nil

	case OP_ENDIF:
		if len(vm.condStack) == 0 {
			return scriptError(ErrUnbalancedConditional,
				"encountered OP_ENDIF with no matching OP_IF")
		}
		vm.condStack = vm.condStack[:len(vm.condStack)-1]
		return nil

	case OP_VERIFY:
		ok, err := vm.dstack.PopBool()
		if err != nil {
			return err
		}
		if !ok {
			return scriptError(ErrVerify, "OP_VERIFY failed")
		}
		return nil

	case OP_RETURN:
		return scriptError(ErrEarlyReturn, "script returned early")

	case OP_VER, OP_RESERVED, OP_RESERVED1, OP_RESERVED2:
		str := fmt.Sprintf("attempt to execute reserved opcode %s",
			OpcodeName(op))
		return scriptError(ErrReservedOpcode, str)

	// Alt stack.
	case OP_TOALTSTACK:
		so, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		vm.astack.PushByteArray(so)
		return nil

	case OP_FROMALTSTACK:
		so, err := vm.astack.PopByteArray()
		if err != nil {
			return err
		}
		vm.dstack.PushByteArray(so)
		return nil

	// Stack operations.
	case OP_2DROP:
		return vm.dstack.DropN(2)

	case OP_2DUP:
		return vm.dstack.DupN(2)

	case OP_3DUP:
		return vm.dstack.DupN(3)

	case OP_2OVER:
		return vm.dstack.OverN(2)

	case OP_2ROT:
		return vm.dstack.RotN(2)

	case OP_2SWAP:
		return vm.dstack.SwapN(2)

	case OP_IFDUP:
		so, err := vm.dstack.PeekByteArray(0)
		if err != nil {
			return err
		}
		if asBool(so) {
			vm.dstack.PushByteArray(so)
		}
		return nil

	case OP_DEPTH:
		vm.dstack.PushInt(big.NewInt(int64(vm.dstack.Depth())))
		return nil

	case OP_DROP:
		return vm.dstack.DropN(1)

	case OP_DUP:
		return vm.dstack.DupN(1)

	case OP_NIP:
		return vm.dstack.NipN(1)

	case OP_OVER:
		return vm.dstack.OverN(1)

	case OP_PICK:
		val, err := vm.dstack.PopInt()
		if err != nil {
			return err
		}
		return vm.dstack.PickN(int32(val.Int64()))

	case OP_ROLL:
		val, err := vm.dstack.PopInt()
		if err != nil {
			return err
		}
		return vm.dstack.RollN(int32(val.Int64()))

	case OP_ROT:
		return vm.dstack.RotN(1)

	case OP_SWAP:
		return vm.dstack.SwapN(1)

	case OP_TUCK:
		return vm.dstack.Tuck()

	case OP_SIZE:
		so, err := vm.dstack.PeekByteArray(0)
		if err != nil {
			return err
		}
		vm.dstack.PushInt(big.NewInt(int64(len(so))))
		return nil

	// Bitwise comparison.  Byte sequences are compared structurally; two
	// elements are equal exactly when their bytes are.
	case OP_EQUAL, OP_EQUALVERIFY:
		a, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		b, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		equal := bytesEqual(a, b)
		if op == OP_EQUALVERIFY {
			if !equal {
				return scriptError(ErrEqualVerify,
					"OP_EQUALVERIFY failed")
			}
			return nil
		}
		vm.dstack.PushBool(equal)
		return nil

	// Numeric.
	case OP_1ADD, OP_1SUB, OP_NEGATE, OP_ABS, OP_NOT, OP_0NOTEQUAL:
		return vm.opcodeUnaryNumeric(op)

	case OP_ADD, OP_SUB, OP_BOOLAND, OP_BOOLOR, OP_NUMEQUAL,
		OP_NUMEQUALVERIFY, OP_NUMNOTEQUAL, OP_LESSTHAN,
		OP_GREATERTHAN, OP_LESSTHANOREQUAL, OP_GREATERTHANOREQUAL,
		OP_MIN, OP_MAX:
		return vm.opcodeBinaryNumeric(op)

	case OP_WITHIN:
		maxVal, err := vm.dstack.PopInt()
		if err != nil {
			return err
		}
		minVal, err := vm.dstack.PopInt()
		if err != nil {
			return err
		}
		x, err := vm.dstack.PopInt()
		if err != nil {
			return err
		}
		within := x.Cmp(minVal) >= 0 && x.Cmp(maxVal) < 0
		vm.dstack.PushBool(within)
		return nil

	// Crypto.
	case OP_RIPEMD160:
		so, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		h := ripemd160.New()
		h.Write(so)
		vm.dstack.PushByteArray(h.Sum(nil))
		return nil

	case OP_SHA1:
		so, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		hash := sha1.Sum(so)
		vm.dstack.PushByteArray(hash[:])
		return nil

	case OP_SHA256:
		so, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		hash := sha256.Sum256(so)
		vm.dstack.PushByteArray(hash[:])
		return nil

	case OP_HASH160:
		so, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		vm.dstack.PushByteArray(btcutil.Hash160(so))
		return nil

	case OP_HASH256:
		so, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		vm.dstack.PushByteArray(chainhash.DoubleHashB(so))
		return nil

	case OP_CODESEPARATOR:
		vm.lastCodeSep = pop.offset + 1
		return nil

	case OP_CHECKSIG, OP_CHECKSIGVERIFY:
		pkBytes, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		sigBytes, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}

		// The connected script runs from the last code separator to
		// the end of the program with every push of this signature
		// removed.
		connected := vm.scriptBytes[vm.lastCodeSep:]
		connected = removeOpcodeByData(connected,
			canonicalPush(sigBytes))

		valid := vm.checkSig(sigBytes, pkBytes, connected)
		if op == OP_CHECKSIGVERIFY {
			if !valid {
				return scriptError(ErrCheckSigVerify,
					"OP_CHECKSIGVERIFY failed")
			}
			return nil
		}
		vm.dstack.PushBool(valid)
		return nil

	case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
		valid, err := vm.opcodeCheckMultiSig()
		if err != nil {
			return err
		}
		if op == OP_CHECKMULTISIGVERIFY {
			if !valid {
				return scriptError(ErrCheckMultiSigVerify,
					"OP_CHECKMULTISIGVERIFY failed")
			}
			return nil
		}
		vm.dstack.PushBool(valid)
		return nil
	}

	str := fmt.Sprintf("attempt to execute invalid opcode %s",
		OpcodeName(op))
	return scriptError(ErrReservedOpcode, str)
}

// opcodeUnaryNumeric handles the single-operand arithmetic opcodes.  The
// operand is subject to the 4-byte numeric limit when popped.
func (vm *Engine) opcodeUnaryNumeric(op byte) error {
	n, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	switch op {
	case OP_1ADD:
		n.Add(n, big.NewInt(1))
		vm.dstack.PushInt(n)

	case OP_1SUB:
		n.Sub(n, big.NewInt(1))
		vm.dstack.PushInt(n)

	case OP_NEGATE:
		n.Neg(n)
		vm.dstack.PushInt(n)

	case OP_ABS:
		n.Abs(n)
		vm.dstack.PushInt(n)

	case OP_NOT:
		vm.dstack.PushBool(n.Sign() == 0)

	case OP_0NOTEQUAL:
		vm.dstack.PushBool(n.Sign() != 0)
	}
	return nil
}

// opcodeBinaryNumeric handles the two-operand arithmetic and comparison
// opcodes.  Both operands are subject to the 4-byte numeric limit when
// popped; results may exceed it and only become constrained again if a later
// opcode pops them as numbers.
func (vm *Engine) opcodeBinaryNumeric(op byte) error {
	v1, err := vm.dstack.PopInt() // Top of stack.
	if err != nil {
		return err
	}
	v0, err := vm.dstack.PopInt() // Below the top.
	if err != nil {
		return err
	}

	switch op {
	case OP_ADD:
		vm.dstack.PushInt(new(big.Int).Add(v0, v1))

	case OP_SUB:
		vm.dstack.PushInt(new(big.Int).Sub(v0, v1))

	case OP_BOOLAND:
		vm.dstack.PushBool(v0.Sign() != 0 && v1.Sign() != 0)

	case OP_BOOLOR:
		vm.dstack.PushBool(v0.Sign() != 0 || v1.Sign() != 0)

	case OP_NUMEQUAL:
		vm.dstack.PushBool(v0.Cmp(v1) == 0)

	case OP_NUMEQUALVERIFY:
		if v0.Cmp(v1) != 0 {
			return scriptError(ErrVerify,
				"OP_NUMEQUALVERIFY failed")
		}

	case OP_NUMNOTEQUAL:
		vm.dstack.PushBool(v0.Cmp(v1) != 0)

	case OP_LESSTHAN:
		vm.dstack.PushBool(v0.Cmp(v1) < 0)

	case OP_GREATERTHAN:
		vm.dstack.PushBool(v0.Cmp(v1) > 0)

	case OP_LESSTHANOREQUAL:
		vm.dstack.PushBool(v0.Cmp(v1) <= 0)

	case OP_GREATERTHANOREQUAL:
		vm.dstack.PushBool(v0.Cmp(v1) >= 0)

	case OP_MIN:
		if v0.Cmp(v1) < 0 {
			vm.dstack.PushInt(v0)
		} else {
			vm.dstack.PushInt(v1)
		}

	case OP_MAX:
		if v0.Cmp(v1) > 0 {
			vm.dstack.PushInt(v0)
		} else {
			vm.dstack.PushInt(v1)
		}
	}
	return nil
}

// checkSig verifies the DER signature plus hash type in sigBytes against the
// provided public key over the signature hash of the connected script.  Any
// failure, including malformed signatures or keys, yields false rather than
// an error: an invalid signature is a normal script outcome, not an abort.
func (vm *Engine) checkSig(sigBytes, pkBytes, connected []byte) bool {
	// Signature actually needs to be longer than this, but at least one
	// byte must exist for the hash type.
	if len(sigBytes) < 1 {
		return false
	}

	hashType := SigHashType(sigBytes[len(sigBytes)-1])
	sigDER := sigBytes[:len(sigBytes)-1]

	hash, err := CalcSignatureHash(connected, hashType, vm.tx, vm.txIdx)
	if err != nil {
		return false
	}

	pubKey, err := btcec.ParsePubKey(pkBytes)
	if err != nil {
		return false
	}

	signature, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return false
	}

	return signature.Verify(hash, pubKey)
}

// opcodeCheckMultiSig implements the shared portion of OP_CHECKMULTISIG and
// OP_CHECKMULTISIGVERIFY and reports whether the signature set was valid.
//
// Signatures and public keys are walked in a single pass: a signature is
// consumed only when it verifies against the current public key, while
// public keys are consumed unconditionally.  The set is valid when every
// signature found a key before the keys ran out.  A final extra element is
// popped from the stack to reproduce the well-known off-by-one bug in the
// reference implementation.
func (vm *Engine) opcodeCheckMultiSig() (bool, error) {
	numKeysBig, err := vm.dstack.PopInt()
	if err != nil {
		return false, err
	}
	numPubKeys := int(numKeysBig.Int64())
	if numPubKeys < 0 || numPubKeys > MaxPubKeysPerMultiSig {
		str := fmt.Sprintf("number of pubkeys %d is invalid [max %d]",
			numPubKeys, MaxPubKeysPerMultiSig)
		return false, scriptError(ErrPubKeyCount, str)
	}

	// Each declared public key charges the operation budget.
	vm.numOps += numPubKeys
	if vm.numOps > MaxOpsPerScript {
		str := fmt.Sprintf("exceeded max operation limit of %d",
			MaxOpsPerScript)
		return false, scriptError(ErrTooManyOperations, str)
	}

	pubKeys := make([][]byte, 0, numPubKeys)
	for i := 0; i < numPubKeys; i++ {
		pubKey, err := vm.dstack.PopByteArray()
		if err != nil {
			return false, err
		}
		pubKeys = append(pubKeys, pubKey)
	}

	numSigsBig, err := vm.dstack.PopInt()
	if err != nil {
		return false, err
	}
	numSignatures := int(numSigsBig.Int64())
	if numSignatures < 0 || numSignatures > numPubKeys {
		str := fmt.Sprintf("number of signatures %d is invalid [max "+
			"%d]", numSignatures, numPubKeys)
		return false, scriptError(ErrSigCount, str)
	}

	signatures := make([][]byte, 0, numSignatures)
	for i := 0; i < numSignatures; i++ {
		signature, err := vm.dstack.PopByteArray()
		if err != nil {
			return false, err
		}
		signatures = append(signatures, signature)
	}

	// A bug in the original Satoshi client implementation means one more
	// stack value than should be used must be popped.  Unfortunately,
	// this buggy behavior is now part of the consensus and a hard fork
	// would be required to fix it.
	if _, err := vm.dstack.PopByteArray(); err != nil {
		return false, err
	}

	// The connected script has every signature push removed before it is
	// hashed for any of the checks.
	connected := vm.scriptBytes[vm.lastCodeSep:]
	for _, sigBytes := range signatures {
		connected = removeOpcodeByData(connected,
			canonicalPush(sigBytes))
	}

	sigIdx, keyIdx := 0, 0
	for sigIdx < len(signatures) {
		// When there are more signatures left than keys, the set can
		// no longer succeed.
		if len(pubKeys)-keyIdx < len(signatures)-sigIdx {
			return false, nil
		}

		if vm.checkSig(signatures[sigIdx], pubKeys[keyIdx], connected) {
			sigIdx++
		}
		keyIdx++
	}

	return true, nil
}

// VerifySpend executes the scripts of the transaction input idx and returns
// nil when the input correctly spends the output carrying pkScript.
//
// The signature script is executed first on a fresh stack, then the public
// key script on the same stack, and the resulting top value must evaluate to
// true.  When enforceP2SH is set and the public key script has the
// pay-to-script-hash form, the signature script must consist only of data
// pushes and the top element it left behind is deserialized and executed as
// the redeeming script against the remainder of that intermediate stack.
func VerifySpend(sigScript []byte, tx *wire.MsgTx, txIdx int, pkScript []byte, enforceP2SH bool) error {
	if len(sigScript) > MaxScriptSize {
		str := fmt.Sprintf("signature script size %d is larger than "+
			"max allowed size %d", len(sigScript), MaxScriptSize)
		return scriptError(ErrScriptTooBig, str)
	}
	if len(pkScript) > MaxScriptSize {
		str := fmt.Sprintf("public key script size %d is larger than "+
			"max allowed size %d", len(pkScript), MaxScriptSize)
		return scriptError(ErrScriptTooBig, str)
	}

	stk := &stack{}
	if err := executeScript(sigScript, stk, tx, txIdx); err != nil {
		return err
	}

	// Keep a copy of the stack between the two script runs so that a
	// pay-to-script-hash evaluation can pick up the redeeming script and
	// its inputs from where the signature script left them.
	var savedStack [][]byte
	if enforceP2SH {
		savedStack = make([][]byte, len(stk.stk))
		copy(savedStack, stk.stk)
	}

	if err := executeScript(pkScript, stk, tx, txIdx); err != nil {
		return err
	}

	if stk.Depth() < 1 {
		return scriptError(ErrEmptyStack,
			"Stack empty at end of script execution")
	}
	top, err := stk.PopByteArray()
	if err != nil {
		return err
	}
	if !asBool(top) {
		return scriptError(ErrEvalFalse,
			"Script resulted in a non-true stack")
	}

	if enforceP2SH && IsPayToScriptHash(pkScript) {
		sigPops, err := parseScript(sigScript)
		if err != nil {
			return err
		}
		if !isPushOnly(sigPops) {
			return scriptError(ErrP2SHNonPushOnly,
				"pay to script hash signature script is not "+
					"push only")
		}

		if len(savedStack) < 1 {
			return scriptError(ErrEmptyStack,
				"pay to script hash left an empty stack")
		}

		// The redeeming script is the top element the signature
		// script pushed; it executes against the rest of that stack.
		redeemScript := savedStack[len(savedStack)-1]
		p2shStack := &stack{stk: make([][]byte, len(savedStack)-1)}
		copy(p2shStack.stk, savedStack[:len(savedStack)-1])

		if err := executeScript(redeemScript, p2shStack, tx, txIdx); err != nil {
			return err
		}

		if p2shStack.Depth() < 1 {
			return scriptError(ErrEmptyStack,
				"Stack empty at end of script execution")
		}
		top, err := p2shStack.PopByteArray()
		if err != nil {
			return err
		}
		if !asBool(top) {
			return scriptError(ErrEvalFalse,
				"Script resulted in a non-true stack")
		}
	}

	return nil
}
