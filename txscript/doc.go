// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package txscript implements the bitcoin transaction script language.

A complete description of the script language used by bitcoin can be found
at https://en.bitcoin.it/wiki/Script.  The following only serves as a quick
overview to provide information on how the package handles the scripts.

Bitcoin scripts are a stack-based, FORTH-like language.  Transaction outputs
lock value behind a public key script, and the input that spends them
supplies a signature script; an input correctly spends an output when running
the signature script followed by the public key script leaves a true value on
the stack.  VerifySpend is the entry point for that evaluation, including the
pay-to-script-hash form when requested.

# Errors

Errors returned by this package are of type txscript.Error and fully support
the standard errors.As interface; the ErrorCode field identifies the specific
rule the script violated.
*/
package txscript
