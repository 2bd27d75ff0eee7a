package chain

// PowAlgo selects the proof of work a block candidate is built for.
type PowAlgo uint64

const (
	PowAlgoMonero PowAlgo = 0
	PowAlgoSha3   PowAlgo = 1
)

type Empty struct{}

func (m *Empty) marshalWire(b []byte) []byte { return b }

func (m *Empty) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		r.skip()
	}
	return r.err
}

type NewBlockTemplateRequest struct {
	Algo      PowAlgo
	MaxWeight uint64
}

func (m *NewBlockTemplateRequest) marshalWire(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Algo))
	return appendUint(b, 2, m.MaxWeight)
}

func (m *NewBlockTemplateRequest) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Algo = PowAlgo(r.readUint())
		case 2:
			m.MaxWeight = r.readUint()
		default:
			r.skip()
		}
	}
	return r.err
}

type ProofOfWork struct {
	Algo    PowAlgo
	PowData []byte
}

func (m *ProofOfWork) marshalWire(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Algo))
	return appendBytes(b, 2, m.PowData)
}

func (m *ProofOfWork) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Algo = PowAlgo(r.readUint())
		case 2:
			m.PowData = r.readBytes()
		default:
			r.skip()
		}
	}
	return r.err
}

// BlockHeader is this chain's block header. The MMR sizes commit to the
// number of outputs and kernels the body adds and are checked by the base
// node on submission.
type BlockHeader struct {
	Hash              []byte
	Version           uint32
	Height            uint64
	PrevHash          []byte
	Timestamp         uint64
	OutputMR          []byte
	OutputMMRSize     uint64
	KernelMR          []byte
	KernelMMRSize     uint64
	InputMR           []byte
	TotalKernelOffset []byte
	Nonce             uint64
	Pow               *ProofOfWork
	TotalScriptOffset []byte
}

func (m *BlockHeader) marshalWire(b []byte) []byte {
	b = appendBytes(b, 1, m.Hash)
	b = appendUint(b, 2, uint64(m.Version))
	b = appendUint(b, 3, m.Height)
	b = appendBytes(b, 4, m.PrevHash)
	b = appendUint(b, 5, m.Timestamp)
	b = appendBytes(b, 6, m.OutputMR)
	b = appendUint(b, 7, m.OutputMMRSize)
	b = appendBytes(b, 8, m.KernelMR)
	b = appendUint(b, 9, m.KernelMMRSize)
	b = appendBytes(b, 10, m.InputMR)
	b = appendBytes(b, 11, m.TotalKernelOffset)
	b = appendUint(b, 12, m.Nonce)
	if m.Pow != nil {
		b = appendMessage(b, 13, m.Pow)
	}
	return appendBytes(b, 14, m.TotalScriptOffset)
}

func (m *BlockHeader) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Hash = r.readBytes()
		case 2:
			m.Version = uint32(r.readUint())
		case 3:
			m.Height = r.readUint()
		case 4:
			m.PrevHash = r.readBytes()
		case 5:
			m.Timestamp = r.readUint()
		case 6:
			m.OutputMR = r.readBytes()
		case 7:
			m.OutputMMRSize = r.readUint()
		case 8:
			m.KernelMR = r.readBytes()
		case 9:
			m.KernelMMRSize = r.readUint()
		case 10:
			m.InputMR = r.readBytes()
		case 11:
			m.TotalKernelOffset = r.readBytes()
		case 12:
			m.Nonce = r.readUint()
		case 13:
			m.Pow = new(ProofOfWork)
			r.readMessage(m.Pow)
		case 14:
			m.TotalScriptOffset = r.readBytes()
		default:
			r.skip()
		}
	}
	return r.err
}

// AggregateBody carries inputs, outputs and kernels in their serialized
// form; the proxy never looks inside them.
type AggregateBody struct {
	Inputs  [][]byte
	Outputs [][]byte
	Kernels [][]byte
}

func (m *AggregateBody) marshalWire(b []byte) []byte {
	b = appendRepeatedBytes(b, 1, m.Inputs)
	b = appendRepeatedBytes(b, 2, m.Outputs)
	return appendRepeatedBytes(b, 3, m.Kernels)
}

func (m *AggregateBody) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Inputs = append(m.Inputs, r.readBytes())
		case 2:
			m.Outputs = append(m.Outputs, r.readBytes())
		case 3:
			m.Kernels = append(m.Kernels, r.readBytes())
		default:
			r.skip()
		}
	}
	return r.err
}

type Block struct {
	Header *BlockHeader
	Body   *AggregateBody
}

func (m *Block) marshalWire(b []byte) []byte {
	if m.Header != nil {
		b = appendMessage(b, 1, m.Header)
	}
	if m.Body != nil {
		b = appendMessage(b, 2, m.Body)
	}
	return b
}

func (m *Block) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Header = new(BlockHeader)
			r.readMessage(m.Header)
		case 2:
			m.Body = new(AggregateBody)
			r.readMessage(m.Body)
		default:
			r.skip()
		}
	}
	return r.err
}

// Clone returns a deep copy of the block.
func (m *Block) Clone() *Block {
	out := new(Block)
	if err := out.unmarshalWire(m.marshalWire(nil)); err != nil {
		panic("chain: block does not survive its own encoding: " + err.Error())
	}
	return out
}

// NewBlockTemplate is a block candidate without coinbase and without the
// header commitments the base node fills in.
type NewBlockTemplate struct {
	Header *BlockHeader
	Body   *AggregateBody
}

func (m *NewBlockTemplate) marshalWire(b []byte) []byte {
	if m.Header != nil {
		b = appendMessage(b, 1, m.Header)
	}
	if m.Body != nil {
		b = appendMessage(b, 2, m.Body)
	}
	return b
}

func (m *NewBlockTemplate) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Header = new(BlockHeader)
			r.readMessage(m.Header)
		case 2:
			m.Body = new(AggregateBody)
			r.readMessage(m.Body)
		default:
			r.skip()
		}
	}
	return r.err
}

type MinerData struct {
	Algo             PowAlgo
	TargetDifficulty uint64
	Reward           uint64
	TotalFees        uint64
}

func (m *MinerData) marshalWire(b []byte) []byte {
	b = appendUint(b, 1, uint64(m.Algo))
	b = appendUint(b, 2, m.TargetDifficulty)
	b = appendUint(b, 3, m.Reward)
	return appendUint(b, 4, m.TotalFees)
}

func (m *MinerData) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Algo = PowAlgo(r.readUint())
		case 2:
			m.TargetDifficulty = r.readUint()
		case 3:
			m.Reward = r.readUint()
		case 4:
			m.TotalFees = r.readUint()
		default:
			r.skip()
		}
	}
	return r.err
}

type NewBlockTemplateResponse struct {
	NewBlockTemplate    *NewBlockTemplate
	InitialSyncAchieved bool
	MinerData           *MinerData
}

func (m *NewBlockTemplateResponse) marshalWire(b []byte) []byte {
	if m.NewBlockTemplate != nil {
		b = appendMessage(b, 1, m.NewBlockTemplate)
	}
	b = appendBool(b, 2, m.InitialSyncAchieved)
	if m.MinerData != nil {
		b = appendMessage(b, 3, m.MinerData)
	}
	return b
}

func (m *NewBlockTemplateResponse) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.NewBlockTemplate = new(NewBlockTemplate)
			r.readMessage(m.NewBlockTemplate)
		case 2:
			m.InitialSyncAchieved = r.readBool()
		case 3:
			m.MinerData = new(MinerData)
			r.readMessage(m.MinerData)
		default:
			r.skip()
		}
	}
	return r.err
}

type GetNewBlockResult struct {
	BlockHash       []byte
	Block           *Block
	MergeMiningHash []byte
}

func (m *GetNewBlockResult) marshalWire(b []byte) []byte {
	b = appendBytes(b, 1, m.BlockHash)
	if m.Block != nil {
		b = appendMessage(b, 2, m.Block)
	}
	return appendBytes(b, 3, m.MergeMiningHash)
}

func (m *GetNewBlockResult) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.BlockHash = r.readBytes()
		case 2:
			m.Block = new(Block)
			r.readMessage(m.Block)
		case 3:
			m.MergeMiningHash = r.readBytes()
		default:
			r.skip()
		}
	}
	return r.err
}

type SubmitBlockResponse struct {
	BlockHash []byte
}

func (m *SubmitBlockResponse) marshalWire(b []byte) []byte {
	return appendBytes(b, 1, m.BlockHash)
}

func (m *SubmitBlockResponse) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.BlockHash = r.readBytes()
		default:
			r.skip()
		}
	}
	return r.err
}

type MetaData struct {
	BestBlockHeight       uint64
	BestBlockHash         []byte
	AccumulatedDifficulty []byte
	PrunedHeight          uint64
	Timestamp             uint64
}

func (m *MetaData) marshalWire(b []byte) []byte {
	b = appendUint(b, 1, m.BestBlockHeight)
	b = appendBytes(b, 2, m.BestBlockHash)
	b = appendBytes(b, 3, m.AccumulatedDifficulty)
	b = appendUint(b, 4, m.PrunedHeight)
	return appendUint(b, 5, m.Timestamp)
}

func (m *MetaData) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.BestBlockHeight = r.readUint()
		case 2:
			m.BestBlockHash = r.readBytes()
		case 3:
			m.AccumulatedDifficulty = r.readBytes()
		case 4:
			m.PrunedHeight = r.readUint()
		case 5:
			m.Timestamp = r.readUint()
		default:
			r.skip()
		}
	}
	return r.err
}

type TipInfoResponse struct {
	Metadata            *MetaData
	InitialSyncAchieved bool
}

func (m *TipInfoResponse) marshalWire(b []byte) []byte {
	if m.Metadata != nil {
		b = appendMessage(b, 1, m.Metadata)
	}
	return appendBool(b, 2, m.InitialSyncAchieved)
}

func (m *TipInfoResponse) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Metadata = new(MetaData)
			r.readMessage(m.Metadata)
		case 2:
			m.InitialSyncAchieved = r.readBool()
		default:
			r.skip()
		}
	}
	return r.err
}

type BlockHeaderResponse struct {
	Header          *BlockHeader
	Confirmations   uint64
	Reward          uint64
	Difficulty      uint64
	NumTransactions uint64
}

func (m *BlockHeaderResponse) marshalWire(b []byte) []byte {
	if m.Header != nil {
		b = appendMessage(b, 1, m.Header)
	}
	b = appendUint(b, 2, m.Confirmations)
	b = appendUint(b, 3, m.Reward)
	b = appendUint(b, 4, m.Difficulty)
	return appendUint(b, 5, m.NumTransactions)
}

func (m *BlockHeaderResponse) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Header = new(BlockHeader)
			r.readMessage(m.Header)
		case 2:
			m.Confirmations = r.readUint()
		case 3:
			m.Reward = r.readUint()
		case 4:
			m.Difficulty = r.readUint()
		case 5:
			m.NumTransactions = r.readUint()
		default:
			r.skip()
		}
	}
	return r.err
}

type BlockHeight struct {
	BlockHeight uint64
}

func (m *BlockHeight) marshalWire(b []byte) []byte {
	return appendUint(b, 1, m.BlockHeight)
}

func (m *BlockHeight) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.BlockHeight = r.readUint()
		default:
			r.skip()
		}
	}
	return r.err
}

type HashRequest struct {
	Hash []byte
}

func (m *HashRequest) marshalWire(b []byte) []byte {
	return appendBytes(b, 1, m.Hash)
}

func (m *HashRequest) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Hash = r.readBytes()
		default:
			r.skip()
		}
	}
	return r.err
}

type ConsensusConstants struct {
	BlockchainVersion  uint64
	CoinbaseLockHeight uint64
	MaxBlockInterval   uint64
	MaxBlockWeight     uint64
	MinPowDifficulty   uint64
}

func (m *ConsensusConstants) marshalWire(b []byte) []byte {
	b = appendUint(b, 1, m.BlockchainVersion)
	b = appendUint(b, 2, m.CoinbaseLockHeight)
	b = appendUint(b, 3, m.MaxBlockInterval)
	b = appendUint(b, 4, m.MaxBlockWeight)
	return appendUint(b, 5, m.MinPowDifficulty)
}

func (m *ConsensusConstants) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.BlockchainVersion = r.readUint()
		case 2:
			m.CoinbaseLockHeight = r.readUint()
		case 3:
			m.MaxBlockInterval = r.readUint()
		case 4:
			m.MaxBlockWeight = r.readUint()
		case 5:
			m.MinPowDifficulty = r.readUint()
		default:
			r.skip()
		}
	}
	return r.err
}

type GetBalanceResponse struct {
	AvailableBalance       uint64
	PendingIncomingBalance uint64
	PendingOutgoingBalance uint64
}

func (m *GetBalanceResponse) marshalWire(b []byte) []byte {
	b = appendUint(b, 1, m.AvailableBalance)
	b = appendUint(b, 2, m.PendingIncomingBalance)
	return appendUint(b, 3, m.PendingOutgoingBalance)
}

func (m *GetBalanceResponse) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.AvailableBalance = r.readUint()
		case 2:
			m.PendingIncomingBalance = r.readUint()
		case 3:
			m.PendingOutgoingBalance = r.readUint()
		default:
			r.skip()
		}
	}
	return r.err
}

type PaymentRecipient struct {
	Address    string
	Amount     uint64
	FeePerGram uint64
	Message    string
}

func (m *PaymentRecipient) marshalWire(b []byte) []byte {
	b = appendString(b, 1, m.Address)
	b = appendUint(b, 2, m.Amount)
	b = appendUint(b, 3, m.FeePerGram)
	return appendString(b, 4, m.Message)
}

func (m *PaymentRecipient) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Address = r.readString()
		case 2:
			m.Amount = r.readUint()
		case 3:
			m.FeePerGram = r.readUint()
		case 4:
			m.Message = r.readString()
		default:
			r.skip()
		}
	}
	return r.err
}

type TransferRequest struct {
	Recipients []*PaymentRecipient
}

func (m *TransferRequest) marshalWire(b []byte) []byte {
	for _, p := range m.Recipients {
		b = appendMessage(b, 1, p)
	}
	return b
}

func (m *TransferRequest) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			p := new(PaymentRecipient)
			r.readMessage(p)
			m.Recipients = append(m.Recipients, p)
		default:
			r.skip()
		}
	}
	return r.err
}

type TransferResult struct {
	Address        string
	TransactionId  uint64
	IsSuccess      bool
	FailureMessage string
}

func (m *TransferResult) marshalWire(b []byte) []byte {
	b = appendString(b, 1, m.Address)
	b = appendUint(b, 2, m.TransactionId)
	b = appendBool(b, 3, m.IsSuccess)
	return appendString(b, 4, m.FailureMessage)
}

func (m *TransferResult) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Address = r.readString()
		case 2:
			m.TransactionId = r.readUint()
		case 3:
			m.IsSuccess = r.readBool()
		case 4:
			m.FailureMessage = r.readString()
		default:
			r.skip()
		}
	}
	return r.err
}

type TransferResponse struct {
	Results []*TransferResult
}

func (m *TransferResponse) marshalWire(b []byte) []byte {
	for _, res := range m.Results {
		b = appendMessage(b, 1, res)
	}
	return b
}

func (m *TransferResponse) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			res := new(TransferResult)
			r.readMessage(res)
			m.Results = append(m.Results, res)
		default:
			r.skip()
		}
	}
	return r.err
}

type IdentifyResponse struct {
	PublicKey     []byte
	PublicAddress string
	NodeId        []byte
}

func (m *IdentifyResponse) marshalWire(b []byte) []byte {
	b = appendBytes(b, 1, m.PublicKey)
	b = appendString(b, 2, m.PublicAddress)
	return appendBytes(b, 3, m.NodeId)
}

func (m *IdentifyResponse) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.PublicKey = r.readBytes()
		case 2:
			m.PublicAddress = r.readString()
		case 3:
			m.NodeId = r.readBytes()
		default:
			r.skip()
		}
	}
	return r.err
}

type GetCoinbaseRequest struct {
	Reward uint64
	Fee    uint64
	Height uint64
	Extra  []byte
}

func (m *GetCoinbaseRequest) marshalWire(b []byte) []byte {
	b = appendUint(b, 1, m.Reward)
	b = appendUint(b, 2, m.Fee)
	b = appendUint(b, 3, m.Height)
	return appendBytes(b, 4, m.Extra)
}

func (m *GetCoinbaseRequest) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Reward = r.readUint()
		case 2:
			m.Fee = r.readUint()
		case 3:
			m.Height = r.readUint()
		case 4:
			m.Extra = r.readBytes()
		default:
			r.skip()
		}
	}
	return r.err
}

type Transaction struct {
	Offset       []byte
	Body         *AggregateBody
	ScriptOffset []byte
}

func (m *Transaction) marshalWire(b []byte) []byte {
	b = appendBytes(b, 1, m.Offset)
	if m.Body != nil {
		b = appendMessage(b, 2, m.Body)
	}
	return appendBytes(b, 3, m.ScriptOffset)
}

func (m *Transaction) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Offset = r.readBytes()
		case 2:
			m.Body = new(AggregateBody)
			r.readMessage(m.Body)
		case 3:
			m.ScriptOffset = r.readBytes()
		default:
			r.skip()
		}
	}
	return r.err
}

type GetCoinbaseResponse struct {
	Transaction *Transaction
}

func (m *GetCoinbaseResponse) marshalWire(b []byte) []byte {
	if m.Transaction != nil {
		b = appendMessage(b, 1, m.Transaction)
	}
	return b
}

func (m *GetCoinbaseResponse) unmarshalWire(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Transaction = new(Transaction)
			r.readMessage(m.Transaction)
		default:
			r.skip()
		}
	}
	return r.err
}
