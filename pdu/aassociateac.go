package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/openpacs/go-dicomnet/pdu/pdu_item"
	"github.com/suyashkumar/dicom/pkg/dicomio"
)

// Defines A_ASSOCIATE_AC. P3.8 9.3.3. The AE title fields are copied from
// the A_ASSOCIATE_RQ.
type AAssociateAC struct {
	ProtocolVersion uint16
	// Reserved uint16
	CalledAETitle  string
	CallingAETitle string
	Items          []pdu_item.SubItem
}

func (AAssociateAC) Read(d *dicomio.Reader) (PDU, error) {
	v := &AAssociateAC{}
	var err error
	v.ProtocolVersion, err = d.ReadUInt16()
	if err != nil {
		return nil, err
	}
	if err := d.Skip(2); err != nil { // Reserved
		return nil, err
	}
	v.CalledAETitle, err = d.ReadString(16)
	if err != nil {
		return nil, err
	}
	v.CallingAETitle, err = d.ReadString(16)
	if err != nil {
		return nil, err
	}
	// AE title fields are fixed-width, space padded.
	v.CalledAETitle = strings.TrimRight(v.CalledAETitle, " ")
	v.CallingAETitle = strings.TrimRight(v.CallingAETitle, " ")
	if err := d.Skip(8 * 4); err != nil {
		return nil, err
	}
	for !d.IsLimitExhausted() {
		item, err := pdu_item.DecodeSubItem(d)
		if err != nil {
			return nil, err
		}
		v.Items = append(v.Items, item)
	}
	return v, nil
}

func (v *AAssociateAC) Write() ([]byte, error) {
	var buf bytes.Buffer
	e := dicomio.NewWriter(&buf, binary.BigEndian, false)
	if v.CalledAETitle == "" || v.CallingAETitle == "" {
		return nil, fmt.Errorf("CalledAETitle or CallingAETitle cannot be empty: %+v", *v)
	}
	if err := e.WriteUInt16(v.ProtocolVersion); err != nil {
		return nil, err
	}
	if err := e.WriteZeros(2); err != nil {
		return nil, err
	}
	if err := e.WriteString(fillString(v.CalledAETitle)); err != nil {
		return nil, err
	}
	if err := e.WriteString(fillString(v.CallingAETitle)); err != nil {
		return nil, err
	}
	if err := e.WriteZeros(8 * 4); err != nil {
		return nil, err
	}
	for _, item := range v.Items {
		if err := item.Write(&e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *AAssociateAC) String() string {
	return fmt.Sprintf("A_ASSOCIATE_AC{version:%v called:'%v' calling:'%v' items:%s}",
		v.ProtocolVersion,
		v.CalledAETitle, v.CallingAETitle, pdu_item.SubItemListString(v.Items))
}
