package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// lastCoinResp is the service's response to POST last_coin.
type lastCoinResp struct {
	CoinID     string `json:"coin_id"`
	IDOfMiner  string `json:"id_of_miner"`
	TimeStamp  int64  `json:"time_stamp"`
}

// difficultyResp is the service's response to POST difficulty.
type difficultyResp struct {
	NumberOfLeadingZeros int   `json:"number_of_leading_zeros"`
	TimeStamp            int64 `json:"time_stamp"`
}

// claimCoinReq is the body of POST claim_coin.
type claimCoinReq struct {
	CoinBlob       string `json:"coin_blob"`
	IDOfMiner      string `json:"id_of_miner"`
	HashOfLastCoin string `json:"hash_of_last_coin"`
}

// claimCoinResp is the service's untagged success/fail response shape.
type claimCoinResp struct {
	Success string `json:"success,omitempty"`
	Fail    string `json:"fail,omitempty"`
}

func randUint64() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func randUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// randomUserAgent and randomForwardedFor decorrelate requests made through
// different proxies.
func randomUserAgent() string {
	return fmt.Sprintf("CPEN442 Miner %d", randUint64())
}

func randomForwardedFor() string {
	return fmt.Sprintf("ARandomCPEN442Miner.%d.%d.x", randUint32(), randUint32())
}
